package portrait

// Portrait processing constants
const (
	// Smallest accepted edge in pixels
	MinImageSize = 32

	// JPEG quality of the copy sent for analysis
	AnalysisJPEGQuality = 90

	// Hamming distance at or below which two portraits count as the same photo
	MaxHashDistance = 4

	// Analysed portraits remembered by the cache
	DefaultCacheSize = 16

	// Persona length requested from the model
	MaxPersonaWords = 150
)

const personaPrompt = `Look at the person in this photo. Write a system instruction, in the first person,
for an AI that will speak as this person in a live voice conversation. Describe who they are,
their personality and how they talk, inferred from the photo. Keep it under 150 words.
Reply with the instruction text only.`

const mouthPrompt = `Locate the mouth (lips) of the main face in this image. Reply with JSON only:
{"x": number, "y": number, "width": number, "height": number}
where all values are percentages (0-100) of the image width (x, width) and height (y, height),
and (x, y) is the top-left corner of a tight box around the lips.`

const genderPrompt = `Look at the main person in this image. Reply with JSON only:
{"gender": "male"} or {"gender": "female"}`

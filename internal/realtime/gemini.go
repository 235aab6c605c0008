package realtime

import (
	"context"
	"strings"

	"google.golang.org/genai"

	"github.com/GriffinCanCode/talking-portrait/internal/codec"
)

// GeminiDialer opens sessions on the Gemini Live API.
type GeminiDialer struct {
	Client *genai.Client
}

// NewGeminiDialer creates a dialer from an API key.
func NewGeminiDialer(ctx context.Context, apiKey string) (*GeminiDialer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	return &GeminiDialer{Client: client}, nil
}

// Dial connects with audio responses, the chosen prebuilt voice, the persona
// as system instruction and transcription enabled in both directions.
func (d *GeminiDialer) Dial(ctx context.Context, setup Setup) (Conn, error) {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: setup.Voice},
			},
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if setup.Persona != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(setup.Persona)}}
	}

	session, err := d.Client.Live.Connect(ctx, strings.TrimPrefix(setup.Model, "models/"), cfg)
	if err != nil {
		return nil, err
	}
	rate := setup.InputSampleRate
	if rate <= 0 {
		rate = DefaultInputSampleRate
	}
	return &geminiConn{session: session, mime: codec.MIMEType(rate)}, nil
}

type geminiConn struct {
	session *genai.Session
	mime    string
}

func (c *geminiConn) SendAudio(pcm []byte) error {
	return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: pcm, MIMEType: c.mime},
	})
}

func (c *geminiConn) Receive() (*ServerMessage, error) {
	msg, err := c.session.Receive()
	if err != nil {
		return nil, err
	}
	return convertServerMessage(msg), nil
}

func (c *geminiConn) Close() error { return c.session.Close() }

// convertServerMessage flattens a Live message into the fields the manager dispatches.
// Inline audio parts of one model turn are concatenated.
func convertServerMessage(msg *genai.LiveServerMessage) *ServerMessage {
	out := &ServerMessage{}
	sc := msg.ServerContent
	if sc == nil {
		return out
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p != nil && p.InlineData != nil && len(p.InlineData.Data) > 0 {
				out.Audio = append(out.Audio, p.InlineData.Data...)
			}
		}
	}
	if sc.InputTranscription != nil {
		out.InputTranscript = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		out.OutputTranscript = sc.OutputTranscription.Text
	}
	out.TurnComplete = sc.TurnComplete
	out.Interrupted = sc.Interrupted
	return out
}

package ai

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
)

// LiveSession is a realtime audio conversation with the voice model: 16kHz
// PCM frames go up, 24kHz PCM replies come back. Used for AI calls.
type LiveSession struct {
	conn *websocket.Conn
}

const liveModel = "gemini-2.5-flash-native-audio-preview-12-2025"

type liveSetup struct {
	Setup struct {
		Model            string `json:"model"`
		GenerationConfig struct {
			ResponseModalities []string       `json:"responseModalities"`
			SpeechConfig       *genSpeechConf `json:"speechConfig"`
		} `json:"generationConfig"`
	} `json:"setup"`
}

type liveInput struct {
	RealtimeInput struct {
		MediaChunks []genInlineData `json:"mediaChunks"`
	} `json:"realtimeInput"`
}

type liveServerMessage struct {
	ServerContent *struct {
		ModelTurn *struct {
			Parts []genPart `json:"parts"`
		} `json:"modelTurn"`
		OutputTranscription *struct {
			Text string `json:"text"`
		} `json:"outputTranscription"`
	} `json:"serverContent"`
}

// ConnectLive opens a live audio session.
func (c *Client) ConnectLive() (*LiveSession, error) {
	url := fmt.Sprintf(
		"wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		c.cfg.APIKey)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "live connect failed", Cause: err}
	}

	var setup liveSetup
	setup.Setup.Model = "models/" + liveModel
	setup.Setup.GenerationConfig.ResponseModalities = []string{"AUDIO"}
	speech := &genSpeechConf{}
	speech.VoiceConfig.PrebuiltVoiceConfig.VoiceName = "Puck"
	setup.Setup.GenerationConfig.SpeechConfig = speech
	if err := conn.WriteJSON(&setup); err != nil {
		conn.Close()
		return nil, &ClientError{Type: ErrTypeConnection, Message: "live setup failed", Cause: err}
	}
	return &LiveSession{conn: conn}, nil
}

// SendAudio streams one captured 16kHz PCM frame to the model.
func (s *LiveSession) SendAudio(pcm []byte) error {
	var input liveInput
	input.RealtimeInput.MediaChunks = []genInlineData{{
		MimeType: "audio/pcm;rate=16000",
		Data:     base64.StdEncoding.EncodeToString(pcm),
	}}
	return s.conn.WriteJSON(&input)
}

// Recv blocks for the next model audio chunk (24kHz PCM) and transcription
// text, skipping messages that carry neither.
func (s *LiveSession) Recv() (pcm []byte, transcript string, err error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, "", err
		}
		var msg liveServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.ServerContent == nil {
			continue
		}
		if msg.ServerContent.OutputTranscription != nil {
			transcript = msg.ServerContent.OutputTranscription.Text
		}
		if mt := msg.ServerContent.ModelTurn; mt != nil && len(mt.Parts) > 0 && mt.Parts[0].InlineData != nil {
			pcm, err = base64.StdEncoding.DecodeString(mt.Parts[0].InlineData.Data)
			return pcm, transcript, err
		}
		if transcript != "" {
			return nil, transcript, nil
		}
	}
}

func (s *LiveSession) Close() error {
	return s.conn.Close()
}

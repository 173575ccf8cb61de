package hivemind

import (
	"github.com/sirupsen/logrus"
)

// BinaryDataHandler receives type-tagged raw payloads. Handlers must not
// block: delivery happens on the connection's reader goroutine, so slow
// work belongs on a handler-owned queue.
type BinaryDataHandler interface {
	// Microphone receives a raw audio chunk.
	Microphone(data []byte, sampleRate, sampleWidth int, c *ClientConnection)
	// STTTranscribe receives audio to transcribe; the transcript goes
	// back to the sender only.
	STTTranscribe(data []byte, sampleRate, sampleWidth int, lang string, c *ClientConnection)
	// STTHandle receives audio to transcribe and inject as an utterance.
	STTHandle(data []byte, sampleRate, sampleWidth int, lang string, c *ClientConnection)
	// ReceiveTTS receives synthesized audio for an utterance.
	ReceiveTTS(data []byte, utterance, lang, fileName string, c *ClientConnection)
	// ReceiveFile receives an arbitrary file transfer.
	ReceiveFile(data []byte, fileName string, c *ClientConnection)
	// Image receives a camera frame.
	Image(data []byte, cameraID string, c *ClientConnection)
}

// DiscardBinaryHandler logs and drops every binary payload. It is the
// default handler; embed it to implement only the operations a node
// cares about.
type DiscardBinaryHandler struct{}

func (DiscardBinaryHandler) discard(op string, size int, c *ClientConnection) {
	logrus.WithFields(logrus.Fields{
		"function": op,
		"size":     size,
		"peer":     c.Peer(),
	}).Debug("no binary handler bound, payload discarded")
}

func (h DiscardBinaryHandler) Microphone(data []byte, sampleRate, sampleWidth int, c *ClientConnection) {
	h.discard("Microphone", len(data), c)
}

func (h DiscardBinaryHandler) STTTranscribe(data []byte, sampleRate, sampleWidth int, lang string, c *ClientConnection) {
	h.discard("STTTranscribe", len(data), c)
}

func (h DiscardBinaryHandler) STTHandle(data []byte, sampleRate, sampleWidth int, lang string, c *ClientConnection) {
	h.discard("STTHandle", len(data), c)
}

func (h DiscardBinaryHandler) ReceiveTTS(data []byte, utterance, lang, fileName string, c *ClientConnection) {
	h.discard("ReceiveTTS", len(data), c)
}

func (h DiscardBinaryHandler) ReceiveFile(data []byte, fileName string, c *ClientConnection) {
	h.discard("ReceiveFile", len(data), c)
}

func (h DiscardBinaryHandler) Image(data []byte, cameraID string, c *ClientConnection) {
	h.discard("Image", len(data), c)
}

package voicesession

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/eleven-am/voice-client/internal/audio"
	"github.com/eleven-am/voice-client/internal/protocol"
	"github.com/eleven-am/voice-client/internal/shared"
	"github.com/eleven-am/voice-client/internal/transport"
)

const imageDataPrefix = "data:image/jpeg;base64,"

// Ready reports whether captured audio can be sent.
func (s *VoiceSession) Ready() bool {
	return s.conn.Ready()
}

// Offer queues a captured chunk without blocking. It returns false when the
// send queue is full.
func (s *VoiceSession) Offer(chunk audio.Chunk) bool {
	if !s.conn.Ready() {
		return false
	}
	select {
	case s.outbound <- protocol.Audio{Chunk: chunk}:
		return true
	default:
		return false
	}
}

// Send queues msg behind any captured audio already waiting, so a commit
// never overtakes the audio it commits.
func (s *VoiceSession) Send(ctx context.Context, msg protocol.Outbound) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	select {
	case s.outbound <- msg:
		return nil
	case <-s.conn.Done():
		return shared.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *VoiceSession) checkOpen() error {
	switch state := s.conn.State(); {
	case state == transport.StateOpen:
		return nil
	case state >= transport.StateClosing:
		return shared.ErrClosed
	default:
		return shared.ErrNotOpen
	}
}

func (s *VoiceSession) sendLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-s.outbound:
			s.write(ctx, msg)
		}
	}
}

func (s *VoiceSession) write(ctx context.Context, msg protocol.Outbound) {
	data, err := protocol.Encode(msg)
	if err != nil {
		s.log.Error("failed to encode outbound message", "type", msg.OutboundType(), "error", err)
		return
	}
	if err := s.conn.Send(ctx, data); err != nil {
		if errors.Is(err, shared.ErrClosed) || errors.Is(err, shared.ErrNotOpen) {
			s.sendErrLog.Do(func() {
				s.log.Debug("dropping outbound message, transport not open", "type", msg.OutboundType())
			})
			return
		}
		s.log.Warn("failed to send message", "type", msg.OutboundType(), "error", err)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.MessageSent(msg.OutboundType())
	}
}

// SendText interrupts the current reply and sends a typed user turn.
func (s *VoiceSession) SendText(ctx context.Context, text string) error {
	if err := s.Interrupt(ctx); err != nil {
		return err
	}
	if err := s.Send(ctx, protocol.Text{Text: text}); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	s.countTurn(ctx)
	return nil
}

// SendImage interrupts the current reply and streams a JPEG as a data URL
// split into image_chunk messages. It returns the generated image id.
func (s *VoiceSession) SendImage(ctx context.Context, jpeg []byte, prompt string) (string, error) {
	if len(jpeg) == 0 {
		return "", errors.New("send image: empty image")
	}
	if err := s.Interrupt(ctx); err != nil {
		return "", err
	}

	id := shared.NewImageID()
	url := imageDataPrefix + base64.StdEncoding.EncodeToString(jpeg)

	msgs := make([]protocol.Outbound, 0, len(url)/s.cfg.ImageChunkSize+3)
	msgs = append(msgs, protocol.ImageStart{ID: id, Prompt: prompt})
	for _, part := range splitChunks(url, s.cfg.ImageChunkSize) {
		msgs = append(msgs, protocol.ImageChunk{ID: id, Data: part})
	}
	msgs = append(msgs, protocol.ImageEnd{ID: id})

	for _, msg := range msgs {
		if err := s.Send(ctx, msg); err != nil {
			return id, fmt.Errorf("send image %s: %w", id, err)
		}
	}

	s.log.Info("image sent", "image_id", id, "bytes", len(jpeg), "chunks", len(msgs)-2)
	s.countTurn(ctx)
	return id, nil
}

func (s *VoiceSession) CommitAudio(ctx context.Context) error {
	if err := s.Send(ctx, protocol.CommitAudio{}); err != nil {
		return fmt.Errorf("commit audio: %w", err)
	}
	return nil
}

// Interrupt clears local playback and asks the server to stop its reply.
func (s *VoiceSession) Interrupt(ctx context.Context) error {
	if err := s.Send(ctx, protocol.Interrupt{}); err != nil {
		return fmt.Errorf("interrupt: %w", err)
	}
	s.deps.Player.Clear()
	return nil
}

func (s *VoiceSession) countTurn(ctx context.Context) {
	if s.deps.Sessions == nil {
		return
	}
	if err := s.deps.Sessions.Increment(ctx, s.id, "turns", 1); err != nil {
		s.log.Debug("failed to count turn", "error", err)
	}
}

func splitChunks(s string, size int) []string {
	if size <= 0 || len(s) <= size {
		return []string{s}
	}
	parts := make([]string, 0, (len(s)+size-1)/size)
	for len(s) > size {
		parts = append(parts, s[:size])
		s = s[size:]
	}
	return append(parts, s)
}

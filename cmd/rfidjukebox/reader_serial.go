package main

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// SerialCardSource reads a reader bridge on a UART.
//
// The bridge (a microcontroller driving the RC522) prints one line per
// detection attempt: a UID when a card answered, "-" or "NONE" when not.
// A background goroutine keeps the most recent line; Poll reports it while
// it is younger than staleAfter, and Absent otherwise, so a silent or
// unplugged bridge reads as "no card" rather than a stuck card.
type SerialCardSource struct {
	mu       sync.Mutex
	latest   PresenceSample
	latestAt time.Time

	port       io.ReadCloser
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time

	done chan struct{}
}

// OpenSerialCardSource opens the bridge UART and starts reading it.
func OpenSerialCardSource(device string, baud int, staleAfter time.Duration, logger *slog.Logger) (*SerialCardSource, error) {
	port, err := openSerial(device, baud)
	if err != nil {
		return nil, err
	}
	logger.Info("card reader bridge opened", "device", device, "baud", baud, "stale_after", staleAfter)
	return newSerialCardSource(port, staleAfter, logger, time.Now), nil
}

func newSerialCardSource(port io.ReadCloser, staleAfter time.Duration, logger *slog.Logger, now func() time.Time) *SerialCardSource {
	s := &SerialCardSource{
		port:       port,
		staleAfter: staleAfter,
		logger:     logger,
		now:        now,
		done:       make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// Poll returns the latest bridge report if it is fresh.
func (s *SerialCardSource) Poll() PresenceSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latestAt.IsZero() || s.now().Sub(s.latestAt) > s.staleAfter {
		return Absent()
	}
	return s.latest
}

func (s *SerialCardSource) Close() error {
	return s.port.Close()
}

// Done is closed when the read loop exits.
func (s *SerialCardSource) Done() <-chan struct{} {
	return s.done
}

func (s *SerialCardSource) readLoop() {
	defer close(s.done)

	sc := bufio.NewScanner(s.port)
	for sc.Scan() {
		sample, ok := parseBridgeLine(sc.Text())
		if !ok {
			s.logger.Debug("card reader: unparsable line", "line", sc.Text())
		}

		s.mu.Lock()
		s.latest = sample
		s.latestAt = s.now()
		s.mu.Unlock()
	}
	if err := sc.Err(); err != nil {
		s.logger.Warn("card reader bridge stopped", "error", err)
		return
	}
	s.logger.Info("card reader bridge closed")
}

// parseBridgeLine converts one bridge line into a sample. ok is false when
// the line was not understood; the sample is then Absent.
func parseBridgeLine(line string) (PresenceSample, bool) {
	line = strings.TrimSpace(line)
	switch strings.ToUpper(line) {
	case "", "-", "NONE":
		return Absent(), true
	}

	upper := strings.ToUpper(line)
	if rest, found := strings.CutPrefix(upper, "UID"); found {
		line = strings.TrimLeft(rest, ":= ")
	}

	id, err := ParseTokenIdentity(line)
	if err != nil {
		return Absent(), false
	}
	return Present(id), true
}

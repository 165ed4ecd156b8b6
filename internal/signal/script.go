package signal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hperssn/focuswatch/internal/clock"
	"github.com/hperssn/focuswatch/internal/domain"
)

const DefaultScriptInterval = 200 * time.Millisecond

// Script is a recorded or hand-written frame sequence, e.g.
//
//	interval: 500ms
//	frames:
//	  - repeat: 4
//	  - eyes_closed: true
//	    repeat: 7
//	  - phone_visible: true
//	  - fail: true
type Script struct {
	Interval time.Duration `yaml:"interval"`
	Frames   []ScriptFrame `yaml:"frames"`
}

type ScriptFrame struct {
	EyesClosed   bool `yaml:"eyes_closed"`
	PhoneVisible bool `yaml:"phone_visible"`
	Persons      *int `yaml:"persons"`
	Repeat       int  `yaml:"repeat"`
	// Fail simulates losing the camera at this point of the script.
	Fail bool `yaml:"fail"`
}

func ParseScript(data []byte) (*Script, error) {
	var s Script
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode script: %w", err)
	}

	if s.Interval == 0 {
		s.Interval = DefaultScriptInterval
	}
	if s.Interval < 0 {
		return nil, fmt.Errorf("script interval must be positive, got %s", s.Interval)
	}
	for i, f := range s.Frames {
		if f.Repeat < 0 {
			return nil, fmt.Errorf("frame %d: repeat must not be negative", i)
		}
		if f.Persons != nil && *f.Persons < 0 {
			return nil, fmt.Errorf("frame %d: persons must not be negative", i)
		}
	}

	return &s, nil
}

func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScript(data)
}

// Len is the number of frames the script yields once repeats are expanded.
func (s *Script) Len() int {
	n := 0
	for _, f := range s.Frames {
		n += f.count()
	}
	return n
}

func (f ScriptFrame) count() int {
	if f.Repeat == 0 {
		return 1
	}
	return f.Repeat
}

// ScriptSource replays a Script. Frame k is stamped base+(k+1)*interval where
// base is the clock reading at the first Next call. When realtime is set Next
// waits until each frame is due; otherwise frames are returned immediately.
type ScriptSource struct {
	script   *Script
	clock    clock.Clock
	realtime bool

	mu     sync.Mutex
	base   time.Time
	frame  int
	repeat int
	seq    int
	closed bool
}

func NewScriptSource(script *Script, clk clock.Clock, realtime bool) *ScriptSource {
	if clk == nil {
		clk = clock.System{}
	}
	return &ScriptSource{script: script, clock: clk, realtime: realtime}
}

// ScriptFactory opens a fresh replay of script for every run.
func ScriptFactory(script *Script, clk clock.Clock, realtime bool) Factory {
	return func(context.Context, string) (Source, error) {
		return NewScriptSource(script, clk, realtime), nil
	}
}

func (s *ScriptSource) Next(ctx context.Context) (domain.Signal, error) {
	if err := ctx.Err(); err != nil {
		return domain.Signal{}, err
	}

	s.mu.Lock()
	if s.closed || s.frame >= len(s.script.Frames) {
		s.mu.Unlock()
		return domain.Signal{}, io.EOF
	}
	if s.base.IsZero() {
		s.base = s.clock.Now()
	}

	f := s.script.Frames[s.frame]
	s.repeat++
	if s.repeat >= f.count() {
		s.frame++
		s.repeat = 0
	}
	s.seq++
	at := s.base.Add(time.Duration(s.seq) * s.script.Interval)
	s.mu.Unlock()

	if f.Fail {
		return domain.Signal{}, fmt.Errorf("%w: scripted camera failure at frame %d", ErrSourceUnavailable, s.seq)
	}

	if s.realtime {
		if wait := at.Sub(s.clock.Now()); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()

			select {
			case <-timer.C:
			case <-ctx.Done():
				return domain.Signal{}, ctx.Err()
			}
		}
	} else if err := ctx.Err(); err != nil {
		return domain.Signal{}, err
	}

	persons := 1
	if f.Persons != nil {
		persons = *f.Persons
	}

	return domain.Signal{
		EyesClosed:   f.EyesClosed,
		PhoneVisible: f.PhoneVisible,
		PersonCount:  persons,
		At:           at,
	}, nil
}

func (s *ScriptSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Package serializer converts node records to and from their stored text form.
package serializer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cuemby/planesync/pkg/log"
	"github.com/cuemby/planesync/pkg/metrics"
	"github.com/cuemby/planesync/pkg/types"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 10 * time.Millisecond
)

var (
	// ErrEmptyRecord is returned when decoding blank content
	ErrEmptyRecord = errors.New("serializer: empty record")

	// ErrInvalidRecord is returned when decoded content is not a usable record
	ErrInvalidRecord = errors.New("serializer: invalid record")
)

// Codec encodes a single node record
type Codec interface {
	Encode(record *types.NodeRecord) ([]byte, error)
	Decode(data []byte) (*types.NodeRecord, error)
}

// YAMLCodec stores records as YAML documents
type YAMLCodec struct{}

func (YAMLCodec) Encode(record *types.NodeRecord) ([]byte, error) {
	return yaml.Marshal(record)
}

func (YAMLCodec) Decode(data []byte) (*types.NodeRecord, error) {
	var record types.NodeRecord
	if err := yaml.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Serializer wraps a Codec and retries each conversion a fixed number of
// attempts before giving up
type Serializer struct {
	codec       Codec
	maxAttempts uint
	delay       time.Duration
	logger      zerolog.Logger
}

// Option configures a Serializer
type Option func(*Serializer)

// WithMaxAttempts sets the total number of attempts per conversion
func WithMaxAttempts(n int) Option {
	return func(s *Serializer) {
		if n > 0 {
			s.maxAttempts = uint(n)
		}
	}
}

// WithRetryDelay sets the pause between attempts
func WithRetryDelay(d time.Duration) Option {
	return func(s *Serializer) { s.delay = d }
}

// New creates a Serializer. A nil codec selects YAMLCodec.
func New(codec Codec, opts ...Option) *Serializer {
	if codec == nil {
		codec = YAMLCodec{}
	}
	s := &Serializer{
		codec:       codec,
		maxAttempts: DefaultMaxAttempts,
		delay:       DefaultRetryDelay,
		logger:      log.WithComponent("serializer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serialize encodes record
func (s *Serializer) Serialize(record *types.NodeRecord) (string, error) {
	if record == nil || record.NodeID == "" {
		return "", fmt.Errorf("%w: missing node id", ErrInvalidRecord)
	}
	out, err := retry(s, "serialize", func() (string, error) {
		data, err := s.codec.Encode(record)
		if err != nil {
			return "", err
		}
		return string(data), nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to serialize node %s: %w", record.NodeID, err)
	}
	return out, nil
}

// Deserialize decodes content. Blank content fails with ErrEmptyRecord
// without retrying.
func (s *Serializer) Deserialize(content string) (*types.NodeRecord, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyRecord
	}
	record, err := retry(s, "deserialize", func() (*types.NodeRecord, error) {
		record, err := s.codec.Decode([]byte(content))
		if err != nil {
			return nil, err
		}
		if record == nil || record.NodeID == "" {
			return nil, backoff.Permanent(fmt.Errorf("%w: missing node id", ErrInvalidRecord))
		}
		return record, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize node record: %w", err)
	}
	return record, nil
}

func retry[T any](s *Serializer, op string, fn func() (T, error)) (T, error) {
	return backoff.Retry(context.Background(), backoff.Operation[T](fn),
		backoff.WithBackOff(backoff.NewConstantBackOff(s.delay)),
		backoff.WithMaxTries(s.maxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.SerializationRetriesTotal.Inc()
			s.logger.Debug().Err(err).Str("op", op).Dur("retry_in", next).Msg("retrying record conversion")
		}),
	)
}

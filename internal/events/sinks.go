package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// LogSink writes events to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(e Event) {
	s.logger.Info(string(e.Type),
		zap.String("call_id", e.CallID),
		zap.String("session_id", e.SessionID),
		zap.String("tool_name", e.ToolName),
		zap.String("status", e.Status),
		zap.Int64("duration_ms", e.DurationMs),
	)
}

func (s *LogSink) Close() {}

const (
	DefaultClickHouseBuffer = 10_000
	flushInterval           = 100 * time.Millisecond
	flushBatch              = 1000
	drainTimeout            = 2 * time.Second
)

// ClickHouseSink batches events into the tool_call_events table.
type ClickHouseSink struct {
	conn    driver.Conn
	buffer  chan Event
	done    chan struct{}
	flushed chan struct{}
	logger  *zap.Logger
}

const createEventsTable = `
CREATE TABLE IF NOT EXISTS tool_call_events (
	call_id String,
	event_type LowCardinality(String),
	session_id String,
	tool_name LowCardinality(String),
	status LowCardinality(String),
	arguments_json String,
	result_json String,
	duration_ms Int64,
	timestamp DateTime64(3)
) ENGINE = MergeTree ORDER BY (tool_name, timestamp)`

// NewClickHouseSink connects, ensures the table exists and starts the
// flush loop.
func NewClickHouseSink(ctx context.Context, dsn string, bufferSize int, logger *zap.Logger) (*ClickHouseSink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, err
	}
	if err := conn.Exec(ctx, createEventsTable); err != nil {
		return nil, err
	}
	if bufferSize <= 0 {
		bufferSize = DefaultClickHouseBuffer
	}
	s := &ClickHouseSink{
		conn:    conn,
		buffer:  make(chan Event, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}
	go s.flushLoop()
	return s, nil
}

// Write queues e, dropping it when the buffer is full.
func (s *ClickHouseSink) Write(e Event) {
	select {
	case s.buffer <- e:
	default:
		s.logger.Warn("clickhouse buffer full, dropping event", zap.String("call_id", e.CallID))
	}
}

// Close drains what is buffered and closes the connection.
func (s *ClickHouseSink) Close() {
	close(s.done)
	<-s.flushed
	if err := s.conn.Close(); err != nil {
		s.logger.Warn("clickhouse close failed", zap.Error(err))
	}
}

func (s *ClickHouseSink) flushLoop() {
	defer close(s.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, flushBatch)
	for {
		select {
		case e := <-s.buffer:
			batch = append(batch, e)
			if len(batch) >= flushBatch {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-s.done:
			deadline := time.After(drainTimeout)
		drain:
			for {
				select {
				case e := <-s.buffer:
					batch = append(batch, e)
				case <-deadline:
					break drain
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				s.flush(batch)
			}
			return
		}
	}
}

func (s *ClickHouseSink) flush(events []Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO tool_call_events (
			call_id, event_type, session_id, tool_name, status,
			arguments_json, result_json, duration_ms, timestamp
		)
	`)
	if err != nil {
		s.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}
	for _, e := range events {
		if err := batch.Append(
			e.CallID,
			string(e.Type),
			e.SessionID,
			e.ToolName,
			e.Status,
			encodeJSON(e.Arguments),
			encodeJSON(e.Result),
			e.DurationMs,
			e.Timestamp,
		); err != nil {
			s.logger.Error("clickhouse append event failed", zap.String("call_id", e.CallID), zap.Error(err))
		}
	}
	if err := batch.Send(); err != nil {
		s.logger.Error("clickhouse batch send failed", zap.Int("batch_size", len(events)), zap.Error(err))
	}
}

func encodeJSON(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

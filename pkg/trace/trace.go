// Package trace records time series of performance counter values to
// Parquet files.
package trace

import (
	"fmt"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

// Reader is the read surface of a counter, satisfied by *pmc.Counter.
type Reader interface {
	Read() (uint64, error)
}

// Sample is one Parquet row: a counter observation at a point in time.
type Sample struct {
	Timestamp int64  `parquet:"name=timestamp, type=INT64"`
	Event     string `parquet:"name=event, type=BYTE_ARRAY, convertedtype=UTF8"`
	Value     int64  `parquet:"name=value, type=INT64"`
}

// Writer appends counter samples to a Parquet file.
type Writer struct {
	file source.ParquetFile
	pw   *writer.ParquetWriter
}

// NewWriter creates a Parquet file at path, truncating any existing file.
func NewWriter(path string) (*Writer, error) {
	file, err := local.NewLocalFileWriter(path)
	if err != nil {
		return nil, fmt.Errorf("creating parquet file: %w", err)
	}

	pw, err := writer.NewParquetWriter(file, new(Sample), 1)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("creating parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	return &Writer{file: file, pw: pw}, nil
}

// Append writes one sample.
func (w *Writer) Append(s Sample) error {
	if err := w.pw.Write(s); err != nil {
		return fmt.Errorf("writing sample: %w", err)
	}
	return nil
}

// Close flushes buffered rows and closes the file.
func (w *Writer) Close() error {
	if err := w.pw.WriteStop(); err != nil {
		w.file.Close()
		return fmt.Errorf("finalizing parquet file: %w", err)
	}
	return w.file.Close()
}

// tracked pairs a counter with the event name it is recorded under.
type tracked struct {
	name   string
	reader Reader
}

// Recorder periodically samples a set of counters into a Writer.
//
// Track all counters before calling Start; the Recorder is not safe for
// concurrent modification while running.
type Recorder struct {
	w       *Writer
	sources []tracked

	stop chan struct{}
	done chan struct{}
}

// NewRecorder creates a Recorder writing to w.
func NewRecorder(w *Writer) *Recorder {
	return &Recorder{w: w}
}

// Track adds a counter to be sampled under the given event name.
func (r *Recorder) Track(name string, reader Reader) {
	r.sources = append(r.sources, tracked{name: name, reader: reader})
}

// Snapshot records one sample per tracked counter at the given timestamp.
// Counters that fail to read are skipped.
func (r *Recorder) Snapshot(timestamp time.Time) error {
	ts := timestamp.UnixNano()
	for _, src := range r.sources {
		value, err := src.reader.Read()
		if err != nil {
			continue
		}
		if err := r.w.Append(Sample{Timestamp: ts, Event: src.name, Value: int64(value)}); err != nil {
			return err
		}
	}
	return nil
}

// Start begins sampling every interval until Stop is called.
func (r *Recorder) Start(interval time.Duration) {
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stop:
				return
			case now := <-ticker.C:
				if err := r.Snapshot(now); err != nil {
					return
				}
			}
		}
	}()
}

// Stop halts periodic sampling and waits for the sampling goroutine to
// exit. It does not close the underlying Writer.
func (r *Recorder) Stop() {
	if r.stop == nil {
		return
	}
	close(r.stop)
	<-r.done
	r.stop = nil
}

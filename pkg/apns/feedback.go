package apns

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"google.golang.org/api/iterator"
)

// RecordSize is the wire size of one feedback record.
const RecordSize = 4 + 2 + TokenSize

// FeedbackRecord reports a device token the gateway found to be no longer
// valid, and when it found that.
type FeedbackRecord struct {
	Timestamp time.Time
	Token     DeviceToken
}

// FeedbackDecoder yields feedback records from a stream. The service closes
// the stream when it has nothing more to report, so a clean close or a
// short trailing read ends the sequence without error.
type FeedbackDecoder struct {
	r   io.Reader
	err error
}

// NewFeedbackDecoder returns a decoder reading from r.
func NewFeedbackDecoder(r io.Reader) *FeedbackDecoder {
	return &FeedbackDecoder{r: r}
}

// Next returns the next record. It returns iterator.Done once the stream
// has ended; any other error aborts the sequence. Once Next has returned an
// error it keeps returning it.
func (d *FeedbackDecoder) Next() (FeedbackRecord, error) {
	if d.err != nil {
		return FeedbackRecord{}, d.err
	}
	var buf [RecordSize]byte
	if _, err := io.ReadFull(d.r, buf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			d.err = iterator.Done
		} else {
			d.err = fmt.Errorf("%w: read feedback record: %w", ErrIO, err)
		}
		return FeedbackRecord{}, d.err
	}
	return decodeFeedbackRecord(buf[:]), nil
}

// The 2-byte length at offset 4 is always 32 and is not interpreted.
func decodeFeedbackRecord(b []byte) FeedbackRecord {
	var rec FeedbackRecord
	rec.Timestamp = time.Unix(int64(binary.BigEndian.Uint32(b[0:4])), 0).UTC()
	copy(rec.Token[:], b[6:RecordSize])
	return rec
}

// ReadAllFeedback drains d.
func ReadAllFeedback(d *FeedbackDecoder) ([]FeedbackRecord, error) {
	records := make([]FeedbackRecord, 0)
	for {
		rec, err := d.Next()
		if err == iterator.Done {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}

// FeedbackStream is a decoder bound to its own TLS connection to the
// feedback service. Nothing is ever written to it.
type FeedbackStream struct {
	*FeedbackDecoder
	conn net.Conn
}

// OpenFeedback connects to the feedback service at addr.
func OpenFeedback(ctx context.Context, addr string, creds *Credentials, opts SessionOptions) (*FeedbackStream, error) {
	conn, err := dialTLS(ctx, addr, creds, opts.DialTimeout)
	if err != nil {
		return nil, err
	}
	opts.logger().Debug("Connected to feedback service", "addr", addr)
	return &FeedbackStream{FeedbackDecoder: NewFeedbackDecoder(conn), conn: conn}, nil
}

// SetDeadline bounds all remaining reads on the stream.
func (s *FeedbackStream) SetDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// Close closes the connection. Records cannot be re-read; open a new
// stream instead.
func (s *FeedbackStream) Close() error {
	return s.conn.Close()
}

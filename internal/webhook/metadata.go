package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	MetadataParticipations = "participationIds"
	MetadataMembership     = "membershipId"
)

var errMissing = errors.New("missing")

// MetadataError reports a metadata key that could not be decoded.
type MetadataError struct {
	Key string
	Err error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("metadata %s: %v", e.Key, e.Err)
}

func (e *MetadataError) Unwrap() error {
	return e.Err
}

// Metadata is the reconciliation target carried by a payment intent.
type Metadata struct {
	ParticipationIDs []uint
	MembershipID     uint
}

// DecodeMetadata strictly decodes the target list and membership. The
// participation list is a JSON array of positive ids, written either as
// numbers or as digit strings.
func DecodeMetadata(md map[string]string) (Metadata, error) {
	ids, err := decodeIDList(md[MetadataParticipations])
	if err != nil {
		return Metadata{}, &MetadataError{Key: MetadataParticipations, Err: err}
	}

	membership, err := parseID(strings.TrimSpace(md[MetadataMembership]))
	if err != nil {
		return Metadata{}, &MetadataError{Key: MetadataMembership, Err: err}
	}

	return Metadata{ParticipationIDs: ids, MembershipID: membership}, nil
}

func decodeIDList(raw string) ([]uint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errMissing
	}

	var items []json.RawMessage
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("not a JSON array: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after array")
	}
	if len(items) == 0 {
		return nil, errors.New("empty list")
	}

	ids := make([]uint, 0, len(items))
	for i, item := range items {
		item = bytes.TrimSpace(item)
		text := string(item)
		if len(item) > 0 && item[0] == '"' {
			if err := json.Unmarshal(item, &text); err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
		}
		id, err := parseID(text)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseID(s string) (uint, error) {
	if s == "" {
		return 0, errMissing
	}
	id, err := strconv.ParseUint(s, 10, 0)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	if id == 0 {
		return 0, errors.New("id must be positive")
	}
	return uint(id), nil
}

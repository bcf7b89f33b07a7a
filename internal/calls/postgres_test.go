package calls

import (
	"database/sql"
	"strings"
	"testing"
	"time"
)

// fakeRow feeds scanCall one row without a live database.
type fakeRow struct {
	id   string
	meta []byte
}

func (r fakeRow) Scan(dest ...any) error {
	*(dest[0].(*string)) = r.id
	*(dest[1].(*string)) = "org-1"
	*(dest[2].(*CallStatus)) = StatusRinging
	*(dest[3].(*string)) = "client-1"
	*(dest[4].(*sql.NullString)) = sql.NullString{}
	*(dest[5].(*sql.NullString)) = sql.NullString{String: "support", Valid: true}
	*(dest[6].(*[]byte)) = r.meta
	*(dest[7].(*time.Time)) = time.Unix(0, 0)
	*(dest[8].(*time.Time)) = time.Unix(0, 0)
	*(dest[9].(*sql.NullTime)) = sql.NullTime{}
	*(dest[10].(*sql.NullTime)) = sql.NullTime{}
	return nil
}

func TestScanCall_MetadataErrorNamesTheCall(t *testing.T) {
	_, err := scanCall(fakeRow{id: "call-9", meta: []byte("{bad")}, "")
	if err == nil {
		t.Fatalf("expected metadata error")
	}
	if !strings.Contains(err.Error(), "call-9") {
		t.Fatalf("error should name the scanned call, got %v", err)
	}
}

func TestScanCall_DecodesRow(t *testing.T) {
	c, err := scanCall(fakeRow{id: "call-1", meta: []byte(`{"sdp_offer":"v=0"}`)}, "")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if c.ID != "call-1" || c.Status != StatusRinging || c.Reason != "support" {
		t.Fatalf("unexpected call: %+v", c)
	}
	if c.Metadata.SDPOffer != "v=0" {
		t.Fatalf("metadata not decoded: %+v", c.Metadata)
	}
}

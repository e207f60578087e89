package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTruthyTokens(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{`"yes"`, true},
		{`"Yes"`, true},
		{`"true"`, true},
		{`"1"`, true},
		{`"no"`, false},
		{`""`, false},
		{`true`, true},
		{`false`, false},
	}
	for _, tc := range cases {
		var got truthy
		if err := json.Unmarshal([]byte(tc.in), &got); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.in, err)
		}
		if bool(got) != tc.want {
			t.Fatalf("%s parsed as %v", tc.in, got)
		}
	}
}

func TestParticipantListUpdate(t *testing.T) {
	var gotTerminal, gotChanged, gotWatermark string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/1.1/wf/ParticipantListUpdate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotTerminal = r.FormValue("scanTerminal")
		gotChanged = r.FormValue("changedBadgeEntities")
		gotWatermark = r.FormValue("watermark")
		record := `{"userId":"u1","firstName":"Ana","lastName":"Li","badgeEntityId":"e1","badgeId":"b1","isUsed":"yes"}`
		fmt.Fprintf(w, `{"status":"success","response":{"participantsUpdate":[%q],"LastQueryUnixTimeStamp":1700000000123}}`, record)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	resp, err := c.ParticipantListUpdate(context.Background(), SyncRequest{
		ChangedEntityIDs: []string{"e7"},
		ScanTerminal:     "term-1",
		BadgeTypeIDs:     []string{"b1"},
		Watermark:        42,
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if gotTerminal != "term-1" || gotChanged != `["e7"]` || gotWatermark != "42" {
		t.Fatalf("request fields: terminal=%q changed=%q watermark=%q", gotTerminal, gotChanged, gotWatermark)
	}
	if resp.Watermark != 1700000000123 {
		t.Fatalf("watermark = %d", resp.Watermark)
	}
	if len(resp.Events) != 1 {
		t.Fatalf("events = %d", len(resp.Events))
	}
	ev := resp.Events[0]
	if ev.EntityID != "e1" || !ev.IsUsed || ev.UserID != "u1" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestFetchRosterPaginates(t *testing.T) {
	record := func(i int) string {
		b, _ := json.Marshal(fmt.Sprintf(`{"userId":"u%d","firstName":"F","lastName":"L","badgeEntityId":"e%d","badgeId":"b1","isUsed":"no"}`, i, i))
		return string(b)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(1 << 20)
		cursor := r.FormValue("cursor")
		switch cursor {
		case "0":
			var items []string
			for i := 0; i < rosterPageSize; i++ {
				items = append(items, record(i))
			}
			fmt.Fprintf(w, `{"status":"success","response":{"participants":[%s],"remaining":2}}`, join(items))
		default:
			fmt.Fprintf(w, `{"status":"success","response":{"participants":[%s,%s],"remaining":0}}`, record(100), record(101))
		}
	}))
	defer srv.Close()

	rows, err := New(srv.URL).FetchRoster(context.Background(), []string{"b1"})
	if err != nil {
		t.Fatalf("fetch roster: %v", err)
	}
	if len(rows) != rosterPageSize+2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[101].EntityID != "e101" {
		t.Fatalf("last row = %+v", rows[101])
	}
}

func TestWorkflowErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/1.1/wf/EventInit":
			http.Error(w, "boom", http.StatusBadGateway)
		case "/api/1.1/wf/SendCode":
			fmt.Fprint(w, `{"status":"error","response":{}}`)
		default:
			fmt.Fprint(w, `not json`)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.EventInit(context.Background(), "", "")
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected APIError 502, got %v", err)
	}
	if err := c.SendCode(context.Background(), "+33", "0600000000"); err == nil {
		t.Fatalf("expected envelope status error")
	}
	if _, err := c.VerifyCode(context.Background(), "+33", "0600000000", "1234"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func join(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

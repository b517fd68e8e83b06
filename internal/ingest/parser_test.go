package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleFile = `01,20251027094500,6
02,100,2,5280000,20251027094500,4,20,104,50
02,100,3,120000,20251027095900,6,20
02,200,2,800000,20251027094700,16,50
02,200,5,9990000,20251027094700
02,300,oops,100,20251027094500
02,301,2,100
`

func TestParse(t *testing.T) {
	p := NewParser(nil, nil)

	f, err := p.Parse(strings.NewReader(sampleFile))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	wantSent := time.Date(2025, 10, 27, 9, 45, 0, 0, time.UTC)
	if !f.Header.SentAt.Equal(wantSent) {
		t.Errorf("expected header time %v, got %v", wantSent, f.Header.SentAt)
	}
	if f.Header.ExpectedCount != 6 {
		t.Errorf("expected header count 6, got %d", f.Header.ExpectedCount)
	}
	if len(f.Records) != 3 {
		t.Fatalf("expected 3 dispensation records, got %d", len(f.Records))
	}
	if f.Discarded != 1 {
		t.Errorf("expected 1 discarded balance record, got %d", f.Discarded)
	}
	if f.Malformed != 2 {
		t.Errorf("expected 2 malformed records, got %d", f.Malformed)
	}

	first := f.Records[0]
	if first.TerminalCode != "100" || first.AdminCode != 2 || first.Amount != 5280000 {
		t.Errorf("unexpected first record: %+v", first)
	}
	if first.Notes[20] != 4 || first.Notes[50] != 104 {
		t.Errorf("unexpected note pairs: %v", first.Notes)
	}
}

func TestParseRejectsInvalidAmounts(t *testing.T) {
	p := NewParser(nil, nil)

	tests := []struct {
		name   string
		amount string
	}{
		{"NaN", "NaN"},
		{"Inf", "Inf"},
		{"PositiveInf", "+Inf"},
		{"NegativeInf", "-Inf"},
		{"Negative", "-100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := "01,20251027094500,2\n" +
				"02,T1,2," + tt.amount + ",20251027094500\n" +
				"02,T2,2,5000,20251027094500\n"
			f, err := p.Parse(strings.NewReader(input))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if f.Malformed != 1 {
				t.Errorf("expected 1 malformed record, got %d", f.Malformed)
			}
			if len(f.Records) != 1 || f.Records[0].TerminalCode != "T2" {
				t.Errorf("expected only the T2 record kept, got %+v", f.Records)
			}
		})
	}
}

func TestParseHeaderErrors(t *testing.T) {
	p := NewParser(nil, nil)

	t.Run("Empty", func(t *testing.T) {
		if _, err := p.Parse(strings.NewReader("")); err == nil {
			t.Error("expected error for empty file")
		}
	})

	t.Run("NoHeader", func(t *testing.T) {
		if _, err := p.Parse(strings.NewReader("02,100,2,5,20251027094500\n")); err == nil {
			t.Error("expected error for missing header")
		}
	})
}

func TestIsDispensation(t *testing.T) {
	for code := 0; code <= 10; code++ {
		want := code == 2 || code == 3 || code == 4
		if got := IsDispensation(code); got != want {
			t.Errorf("IsDispensation(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestAggregate(t *testing.T) {
	p := NewParser(nil, nil)
	f, err := p.Parse(strings.NewReader(sampleFile))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	windows := Aggregate(f.Records)
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(windows))
	}

	// Terminal 100: 09:45 and 09:59 fall in the same bucket
	if windows[0].TerminalCode != "100" {
		t.Fatalf("expected terminal 100 first, got %s", windows[0].TerminalCode)
	}
	if windows[0].Amount != 5400000 || windows[0].TxnCount != 2 {
		t.Errorf("unexpected aggregate for 100: %+v", windows[0])
	}
	wantStart := time.Date(2025, 10, 27, 9, 45, 0, 0, time.UTC)
	if !windows[0].WindowStart.Equal(wantStart) {
		t.Errorf("expected bucket %v, got %v", wantStart, windows[0].WindowStart)
	}
	if windows[1].TerminalCode != "200" || windows[1].Amount != 800000 {
		t.Errorf("unexpected aggregate for 200: %+v", windows[1])
	}
}

func TestInbox(t *testing.T) {
	dir := t.TempDir()
	inbox, err := NewInbox(dir)
	if err != nil {
		t.Fatalf("NewInbox failed: %v", err)
	}

	for _, name := range []string{"b.txt", "a.txt", ".partial"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(sampleFile), 0644); err != nil {
			t.Fatal(err)
		}
	}

	pending, err := inbox.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 2 || filepath.Base(pending[0]) != "a.txt" {
		t.Fatalf("unexpected pending files: %v", pending)
	}

	claimed, err := inbox.Claim(pending[0])
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if _, err := os.Stat(claimed); err != nil {
		t.Errorf("claimed file missing: %v", err)
	}

	pending, _ = inbox.Pending()
	if len(pending) != 1 {
		t.Errorf("expected 1 pending file after claim, got %d", len(pending))
	}
	if !inbox.Owns(claimed) || inbox.Owns(pending[0]) {
		t.Errorf("expected only the claimed file to be owned")
	}

	t.Run("Release", func(t *testing.T) {
		released, err := inbox.Release(claimed)
		if err != nil {
			t.Fatalf("Release failed: %v", err)
		}
		if filepath.Dir(released) != dir {
			t.Errorf("expected release to the inbox root, got %s", released)
		}
		if pending, _ := inbox.Pending(); len(pending) != 2 {
			t.Errorf("expected 2 pending files after release, got %d", len(pending))
		}
	})

	t.Run("Complete", func(t *testing.T) {
		claimed, err := inbox.Claim(filepath.Join(dir, "a.txt"))
		if err != nil {
			t.Fatalf("Claim failed: %v", err)
		}
		done, err := inbox.Complete(claimed)
		if err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
		if filepath.Dir(done) != filepath.Join(dir, ProcessedDir) {
			t.Errorf("expected file under processed/, got %s", done)
		}
	})

	t.Run("Requeue", func(t *testing.T) {
		if _, err := inbox.Claim(filepath.Join(dir, "b.txt")); err != nil {
			t.Fatalf("Claim failed: %v", err)
		}
		n, err := inbox.Requeue()
		if err != nil {
			t.Fatalf("Requeue failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 requeued file, got %d", n)
		}
		if pending, _ := inbox.Pending(); len(pending) != 1 || filepath.Base(pending[0]) != "b.txt" {
			t.Errorf("expected b.txt pending again, got %v", pending)
		}
	})
}

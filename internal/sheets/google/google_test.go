package google

import (
	"context"
	"strings"
	"testing"

	ports "garbanzo/internal/sheets"
)

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Config{CredentialsJSON: "{}"})
	if err == nil {
		t.Fatal("expected error for missing spreadsheet ID")
	}
	if err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{SpreadsheetID: "sheet-id"})
	if err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Errorf("expected missing credentials error, got: %v", err)
	}
}

func TestNew_UnreadableCredentialsFile(t *testing.T) {
	_, err := New(context.Background(), Config{SpreadsheetID: "sheet-id", CredentialsFile: t.TempDir() + "/absent.json"})
	if err == nil || !strings.Contains(err.Error(), "read service account file") {
		t.Errorf("expected read error, got: %v", err)
	}
}

func TestClient_WriteTableValidation(t *testing.T) {
	c := &Client{spreadsheetID: "test"}

	tests := []struct {
		name    string
		table   ports.Table
		wantErr string
	}{
		{"missing name", ports.Table{Header: []string{"a"}}, "table name is required"},
		{"row wider than header", ports.Table{Name: "x", Header: []string{"a"}, Rows: [][]string{{"1", "2"}}}, "has 2 cells"},
		{"service not initialized", ports.Table{Name: "x", Header: []string{"a"}}, "not initialized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.WriteTable(context.Background(), tt.table)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("WriteTable() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestColumnName(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{1, "A"},
		{5, "E"},
		{26, "Z"},
		{27, "AA"},
		{52, "AZ"},
		{703, "AAA"},
	}
	for _, tt := range tests {
		if got := columnName(tt.n); got != tt.want {
			t.Errorf("columnName(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestTabTitleAndRange(t *testing.T) {
	c := &Client{prefix: "Garbanzo"}
	if got := c.tabTitle("Monthly"); got != "Garbanzo Monthly" {
		t.Errorf("tabTitle = %q", got)
	}
	if got := (&Client{}).tabTitle(" Flows "); got != "Flows" {
		t.Errorf("tabTitle without prefix = %q", got)
	}
	if got := c.tabTitle(strings.Repeat("x", 200)); len(got) != maxTitleLength {
		t.Errorf("tabTitle length = %d, want %d", len(got), maxTitleLength)
	}
	if got := a1Range("Bob's Flows", 5, 13); got != "'Bob''s Flows'!A1:E13" {
		t.Errorf("a1Range = %q", got)
	}
	if got := a1Range("Empty", 0, 0); got != "'Empty'!A1:A1" {
		t.Errorf("a1Range empty = %q", got)
	}
}

func TestToValues_PadsShortRows(t *testing.T) {
	values := toValues(ports.Table{
		Name:   "t",
		Header: []string{"Month", "Income", "Expenses"},
		Rows:   [][]string{{"2024-01", "100"}, {"2024-02", "50", "20"}},
	})
	if len(values) != 3 {
		t.Fatalf("rows = %d, want 3", len(values))
	}
	if values[0][0] != "Month" {
		t.Errorf("header = %v", values[0])
	}
	if len(values[1]) != 3 || values[1][2] != "" {
		t.Errorf("short row not padded: %v", values[1])
	}
}

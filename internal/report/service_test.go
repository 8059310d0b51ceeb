package report

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/nav"
	"github.com/mtlprog/fundo/internal/shares"
)

type mockSource struct {
	register  []shares.Ownership
	valuation nav.Valuation
	err       error
	asOf      time.Time
}

func (m *mockSource) Register(_ context.Context, asOf time.Time) ([]shares.Ownership, nav.Valuation, error) {
	m.asOf = asOf
	return m.register, m.valuation, m.err
}

type mockRepo struct {
	saveErr   error
	savedData json.RawMessage
	savedDate time.Time
	latest    *Report
	latestErr error
	list      []Report
	listLimit int
}

func (m *mockRepo) Save(_ context.Context, date time.Time, data json.RawMessage) error {
	m.savedData = data
	m.savedDate = date
	return m.saveErr
}

func (m *mockRepo) GetLatest(_ context.Context) (*Report, error) {
	return m.latest, m.latestErr
}

func (m *mockRepo) GetByDate(_ context.Context, date time.Time) (*Report, error) {
	if m.latest != nil && m.latest.ReportDate.Equal(date) {
		return m.latest, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockRepo) List(_ context.Context, limit int) ([]Report, error) {
	m.listLimit = limit
	return m.list, nil
}

type mockExporter struct {
	err   error
	calls int
	last  Data
}

func (m *mockExporter) Export(_ context.Context, data Data) error {
	m.calls++
	m.last = data
	return m.err
}

func sampleSource() *mockSource {
	return &mockSource{
		register: []shares.Ownership{{MemberID: 1, Name: "Ana", Shares: decimal.NewFromInt(1000)}},
		valuation: nav.Valuation{
			NAV:         decimal.NewFromInt(1010),
			TotalShares: decimal.NewFromInt(1000),
			NAVPerShare: decimal.RequireFromString("1.01"),
		},
	}
}

func TestGenerateSuccess(t *testing.T) {
	repo := &mockRepo{}
	source := sampleSource()
	exporter := &mockExporter{}
	svc := NewService(source, repo, exporter)

	date := time.Date(2024, 1, 2, 15, 30, 0, 0, time.UTC)
	data, err := svc.Generate(context.Background(), date)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	if !source.asOf.Equal(want) || !repo.savedDate.Equal(want) {
		t.Errorf("dates = %v/%v, want %v", source.asOf, repo.savedDate, want)
	}
	if !data.Valuation.NAV.Equal(decimal.NewFromInt(1010)) {
		t.Errorf("NAV = %s, want 1010", data.Valuation.NAV)
	}

	var stored Data
	if err := json.Unmarshal(repo.savedData, &stored); err != nil {
		t.Fatalf("stored data is not JSON: %v", err)
	}
	if len(stored.Register) != 1 || stored.Register[0].Name != "Ana" {
		t.Errorf("stored register = %+v", stored.Register)
	}
	if exporter.calls != 1 || len(exporter.last.Register) != 1 {
		t.Errorf("exporter calls = %d, register = %+v", exporter.calls, exporter.last.Register)
	}
}

func TestGenerateSourceError(t *testing.T) {
	repo := &mockRepo{}
	source := &mockSource{err: errors.New("nav failed")}
	exporter := &mockExporter{}
	svc := NewService(source, repo, exporter)

	if _, err := svc.Generate(context.Background(), time.Now()); err == nil {
		t.Fatal("expected error from register source")
	}
	if repo.savedData != nil || exporter.calls != 0 {
		t.Error("nothing should be saved or exported on failure")
	}
}

func TestGenerateRepoSaveError(t *testing.T) {
	repo := &mockRepo{saveErr: errors.New("save failed")}
	exporter := &mockExporter{}
	svc := NewService(sampleSource(), repo, exporter)

	if _, err := svc.Generate(context.Background(), time.Now()); err == nil {
		t.Fatal("expected error from repo save")
	}
	if exporter.calls != 0 {
		t.Errorf("exporter calls = %d, want 0", exporter.calls)
	}
}

func TestGenerateExporterErrorIsNotFatal(t *testing.T) {
	repo := &mockRepo{}
	failing := &mockExporter{err: errors.New("sheets down")}
	next := &mockExporter{}
	svc := NewService(sampleSource(), repo, failing, next)

	if _, err := svc.Generate(context.Background(), time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if failing.calls != 1 || next.calls != 1 {
		t.Errorf("exporter calls = %d/%d, want 1/1", failing.calls, next.calls)
	}
}

func TestGetByDateNotFound(t *testing.T) {
	svc := NewService(sampleSource(), &mockRepo{})

	_, err := svc.GetByDate(context.Background(), time.Now())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListPassesLimit(t *testing.T) {
	repo := &mockRepo{list: []Report{{ID: 1}}}
	svc := NewService(sampleSource(), repo)

	reports, err := svc.List(context.Background(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reports) != 1 || repo.listLimit != 5 {
		t.Errorf("reports = %d, limit = %d", len(reports), repo.listLimit)
	}
}

func TestNewServicePanicsOnNil(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewService(nil, &mockRepo{})
}

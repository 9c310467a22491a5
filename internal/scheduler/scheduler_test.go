package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler(WithLocation(LoadLocation("Asia/Jakarta")))
	defer s.Stop(context.Background())

	if err := s.AddJob("morning", "0 7 * * *", func() {}); err != nil {
		t.Fatalf("Expected no error adding job, got %v", err)
	}
	next, ok := s.Next("morning")
	if !ok {
		t.Fatal("morning job not registered")
	}
	if h := next.In(LoadLocation("Asia/Jakarta")).Hour(); h != 7 {
		t.Errorf("next run at hour %d, want 7", h)
	}
}

func TestSchedulerInvalidExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop(context.Background())
	if err := s.AddJob("bad", "every morning", func() {}); err == nil {
		t.Error("expected error for invalid expression")
	}
	if _, ok := s.Next("bad"); ok {
		t.Error("invalid job must not be registered")
	}
}

func TestSchedulerReplaceJob(t *testing.T) {
	s := NewScheduler(WithLocation(time.UTC))
	defer s.Stop(context.Background())
	s.AddJob("afternoon", "0 17 * * *", func() {})
	s.AddJob("afternoon", "30 16 * * *", func() {})
	next, _ := s.Next("afternoon")
	if next.Hour() != 16 || next.Minute() != 30 {
		t.Errorf("replacement not applied, next = %v", next)
	}
}

func TestLoadLocationFallback(t *testing.T) {
	if LoadLocation("Mars/Olympus_Mons") != time.UTC {
		t.Error("unknown timezone should fall back to UTC")
	}
}

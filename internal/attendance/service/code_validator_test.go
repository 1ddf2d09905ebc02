package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/service"
)

// ═══════════════════════════════════════════════════════════════════════════
// ParseCode
// ═══════════════════════════════════════════════════════════════════════════

func TestParseCode_Splits(t *testing.T) {
	tests := []struct {
		code     string
		activity domain.ActivityID
		person   domain.PersonID
	}{
		{chessCode, "CHESSCLUB1", "STUDENT01"},
		{"QRACT1PERSON001", "ACT1", "PERSON001"},
		{"ABCS101LAB12345678901", "CS101LAB12", "345678901"},
	}
	for _, tc := range tests {
		p, err := service.ParseCode(tc.code)
		if err != nil {
			t.Fatalf("ParseCode(%q): %v", tc.code, err)
		}
		if p.Prefix != tc.code[:2] || p.ActivityID != tc.activity || p.PersonID != tc.person {
			t.Errorf("ParseCode(%q) = %+v", tc.code, p)
		}
	}
}

func TestParseCode_Malformed(t *testing.T) {
	for _, code := range []string{
		"",
		"QRCHESS123",          // length 10
		"QRCHESSCLUB1ST",      // length 14
		"qrCHESSCLUB1STUDENT", // lowercase prefix
		"Q1CHESSCLUB1STUDENT",
	} {
		if _, err := service.ParseCode(code); !errors.Is(err, domain.ErrMalformedCode) {
			t.Errorf("ParseCode(%q): expected ErrMalformedCode, got %v", code, err)
		}
	}
	if _, err := service.ParseCode("QRCHESSCLUB1STU"); err != nil {
		t.Errorf("expected a 15-char code to parse, got %v", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Validate
// ═══════════════════════════════════════════════════════════════════════════

func TestValidate_OrderOfChecks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.catalog.PutRegistration(domain.Registration{
		Code: "QRCHESSCLUB1STUDENT02", ActivityID: "CHESSCLUB1", PersonID: "STUDENT02", Active: false,
	})

	tests := []struct {
		name     string
		code     string
		activity domain.ActivityID
		want     error
	}{
		{"too short", "QRCHESS123", "CHESSCLUB1", domain.ErrMalformedCode},
		{"lowercase prefix", "qrCHESSCLUB1STUDENT01", "CHESSCLUB1", domain.ErrMalformedCode},
		{"unknown", "QRCHESSCLUB1NOBODY999", "CHESSCLUB1", domain.ErrUnknownCode},
		{"revoked", "QRCHESSCLUB1STUDENT02", "CHESSCLUB1", domain.ErrRevokedRegistration},
		{"wrong activity", chessCode, "CS101", domain.ErrWrongActivity},
		{"valid", chessCode, "CHESSCLUB1", nil},
		{"no expected activity", chessCode, "", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reg, err := h.codes.Validate(ctx, tc.code, tc.activity)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if tc.want == nil && reg.PersonID != "STUDENT01" {
				t.Errorf("expected STUDENT01, got %q", reg.PersonID)
			}
		})
	}
}

func TestValidate_AlreadyUsedIsPerActivity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.records.Insert(ctx, domain.AttendanceRecord{
		ID: "r1", Key: domain.SessionKey{SessionID: "a1", Date: monday}, ActivityID: "CHESSCLUB1",
		PersonID: "STUDENT01", Status: domain.StatusPresent, CheckInAt: at(9, 0), Code: chessCode,
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	reg, err := h.codes.Validate(ctx, chessCode, "CHESSCLUB1")
	if !errors.Is(err, domain.ErrAlreadyUsed) {
		t.Fatalf("expected ErrAlreadyUsed, got %v", err)
	}
	if reg.PersonID != "STUDENT01" {
		t.Error("expected registration returned alongside ErrAlreadyUsed")
	}
	if domain.KindOf(err) != domain.KindConflict {
		t.Errorf("expected conflict kind, got %s", domain.KindOf(err))
	}

	if _, err := h.records.Revoke(ctx, "r1", time.Now(), ""); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := h.codes.Validate(ctx, chessCode, "CHESSCLUB1"); err != nil {
		t.Errorf("expected revoked use to free the code, got %v", err)
	}
}

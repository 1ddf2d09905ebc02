package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/store"
)

const minCodeLength = 15

// CodeParts is a registration code split into its fields. Codes are
// <2 uppercase letters><activity id><person id>.
type CodeParts struct {
	Prefix     string
	ActivityID domain.ActivityID
	PersonID   domain.PersonID
}

// ParseCode checks the code shape and splits it. The activity id takes up
// to ten characters after the prefix and always leaves at least nine for
// the person.
func ParseCode(code string) (CodeParts, error) {
	if len(code) < minCodeLength || !isUpperASCII(code[0]) || !isUpperASCII(code[1]) {
		return CodeParts{}, domain.ErrMalformedCode
	}
	n := min(10, len(code)-11)
	return CodeParts{
		Prefix:     code[:2],
		ActivityID: domain.ActivityID(code[2 : 2+n]),
		PersonID:   domain.PersonID(code[2+n:]),
	}, nil
}

func isUpperASCII(b byte) bool { return b >= 'A' && b <= 'Z' }

type CodeValidator struct {
	registrations store.Registrations
	records       store.RecordStore
}

func NewCodeValidator(regs store.Registrations, records store.RecordStore) *CodeValidator {
	return &CodeValidator{registrations: regs, records: records}
}

// Validate runs the checks in order and stops at the first failure. An
// empty expectedActivity skips the activity match. The registration is
// returned whenever the code is known, even alongside an error, so callers
// can attribute the rejection to a person.
func (v *CodeValidator) Validate(ctx context.Context, code string, expectedActivity domain.ActivityID) (domain.Registration, error) {
	code = strings.TrimSpace(code)
	if _, err := ParseCode(code); err != nil {
		return domain.Registration{}, err
	}

	reg, err := v.registrations.Registration(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Registration{}, domain.ErrUnknownCode
	}
	if err != nil {
		return domain.Registration{}, fmt.Errorf("lookup registration: %w", err)
	}
	if !reg.Active {
		return reg, domain.ErrRevokedRegistration
	}
	if expectedActivity != "" && reg.ActivityID != expectedActivity {
		return reg, domain.ErrWrongActivity
	}

	used, err := v.records.CodeConsumed(ctx, code, reg.ActivityID)
	if err != nil {
		return reg, fmt.Errorf("check code usage: %w", err)
	}
	if used {
		return reg, domain.ErrAlreadyUsed
	}
	return reg, nil
}

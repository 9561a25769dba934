// Package statsource is the boundary to the upstream basketball stats provider.
//
// Every payload field the engines consume is normalized here: minutes strings become
// floats, missing or null numbers become zero, dates are parsed once. Nothing
// downstream re-checks upstream shapes.
package statsource

import (
	"context"
	"errors"

	"github.com/rewired-gh/proporacle/internal/models"
)

// ErrUnavailable wraps every transport or status failure from the provider.
var ErrUnavailable = errors.New("stat source unavailable")

// LogQuery selects one page of game logs.
type LogQuery struct {
	SubjectIDs []int64
	Season     int
	Page       int
	PerPage    int
}

// Source is the upstream contract consumed by the roster cache and momentum engine.
type Source interface {
	SearchSubjects(ctx context.Context, name string) ([]models.Subject, error)
	ListActiveRoster(ctx context.Context, pageSize int) ([]models.Subject, error)
	FetchGameLogs(ctx context.Context, q LogQuery) ([]models.GameObservation, error)
	// FetchSeasonBaseline returns nil, nil when the provider has no row for the season.
	FetchSeasonBaseline(ctx context.Context, subjectID int64, season int) (*models.Baseline, error)
}

package ranking

import "github.com/nikhlu07/Credo/internal/domain/model"

// Sentinel kinds for ranking errors.
var (
	ErrNotFound     = model.NewError(model.KindNotFound, "subject not ranked")
	ErrInvalidLimit = model.NewError(model.KindValidation, "invalid leaderboard limit")
)

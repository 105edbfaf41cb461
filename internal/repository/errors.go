package repository

import (
	"errors"

	"gorm.io/gorm"
)

// ErrAttemptLimitReached is returned when an invitation has no attempts left.
var ErrAttemptLimitReached = errors.New("invitation attempt limit reached")

// ErrSubmissionClosed is returned when a write targets a submission that was
// completed after it was loaded.
var ErrSubmissionClosed = errors.New("submission already completed")

// paginate applies offset and limit when a page size is set.
func paginate(query *gorm.DB, page, pageSize int) *gorm.DB {
	if pageSize <= 0 {
		return query
	}
	if page < 1 {
		page = 1
	}
	return query.Offset((page - 1) * pageSize).Limit(pageSize)
}

package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/codequest-api/internal/models"
)

// TestFilter narrows test listings.
type TestFilter struct {
	VendorID   *uint
	Status     string
	Category   string
	Difficulty string
	Type       string
	Search     string
	Page       int
	PageSize   int
}

// TestRepository persists tests together with their questions.
type TestRepository interface {
	Create(ctx context.Context, test *models.Test) error
	GetByID(ctx context.Context, id uint) (models.Test, error)
	GetByUUID(ctx context.Context, uuid string) (models.Test, error)
	Update(ctx context.Context, test *models.Test) error
	Delete(ctx context.Context, id uint) error
	AddQuestions(ctx context.Context, test *models.Test, mcqs []models.MCQ, challenges []models.CodingChallenge) error
	List(ctx context.Context, filter TestFilter) ([]models.Test, int64, error)
	CountByStatus(ctx context.Context, vendorID *uint) (map[string]int64, error)
}

type testRepository struct {
	db *gorm.DB
}

// NewTestRepository constructs a test repository.
func NewTestRepository(db *gorm.DB) TestRepository {
	return &testRepository{db: db}
}

func (r *testRepository) withQuestions(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("MCQs", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC, id ASC") }).
		Preload("CodingChallenges", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC, id ASC") })
}

// Create inserts the test and any questions attached to it.
func (r *testRepository) Create(ctx context.Context, test *models.Test) error {
	return r.db.WithContext(ctx).Create(test).Error
}

func (r *testRepository) GetByID(ctx context.Context, id uint) (models.Test, error) {
	var test models.Test
	err := r.withQuestions(ctx).First(&test, id).Error
	return test, err
}

func (r *testRepository) GetByUUID(ctx context.Context, uuid string) (models.Test, error) {
	var test models.Test
	err := r.withQuestions(ctx).Where("uuid = ?", uuid).First(&test).Error
	return test, err
}

// Update saves the test row only. Questions are managed through AddQuestions.
func (r *testRepository) Update(ctx context.Context, test *models.Test) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(test).Error
}

func (r *testRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("test_id = ?", id).Delete(&models.MCQ{}).Error; err != nil {
			return err
		}
		if err := tx.Where("test_id = ?", id).Delete(&models.CodingChallenge{}).Error; err != nil {
			return err
		}
		if err := tx.Where("test_id = ?", id).Delete(&models.TestInvitation{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.Test{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// AddQuestions appends questions and persists the recomputed totals of test
// in one transaction. test must already include the new questions.
func (r *testRepository) AddQuestions(ctx context.Context, test *models.Test, mcqs []models.MCQ, challenges []models.CodingChallenge) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(mcqs) > 0 {
			for i := range mcqs {
				mcqs[i].TestID = test.ID
			}
			if err := tx.Create(&mcqs).Error; err != nil {
				return err
			}
		}
		if len(challenges) > 0 {
			for i := range challenges {
				challenges[i].TestID = test.ID
			}
			if err := tx.Create(&challenges).Error; err != nil {
				return err
			}
		}

		return tx.Model(&models.Test{}).
			Where("id = ?", test.ID).
			Updates(map[string]interface{}{
				"total_marks":   test.TotalMarks,
				"passing_marks": test.PassingMarks,
			}).Error
	})
}

func (r *testRepository) List(ctx context.Context, filter TestFilter) ([]models.Test, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Test{})
	if filter.VendorID != nil {
		query = query.Where("vendor_id = ?", *filter.VendorID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.Difficulty != "" {
		query = query.Where("difficulty = ?", filter.Difficulty)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if search := strings.ToLower(strings.TrimSpace(filter.Search)); search != "" {
		like := "%" + search + "%"
		query = query.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ?", like, like)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var tests []models.Test
	err := paginate(query, filter.Page, filter.PageSize).
		Preload("MCQs", func(db *gorm.DB) *gorm.DB { return db.Select("id", "test_id", "marks") }).
		Preload("CodingChallenges", func(db *gorm.DB) *gorm.DB { return db.Select("id", "test_id", "marks") }).
		Order("created_at DESC").
		Order("id DESC").
		Find(&tests).Error
	return tests, total, err
}

func (r *testRepository) CountByStatus(ctx context.Context, vendorID *uint) (map[string]int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Test{})
	if vendorID != nil {
		query = query.Where("vendor_id = ?", *vendorID)
	}

	var rows []struct {
		Status string
		Total  int64
	}
	if err := query.Select("status, COUNT(*) AS total").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := map[string]int64{
		models.TestStatusDraft:     0,
		models.TestStatusPublished: 0,
		models.TestStatusArchived:  0,
	}
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

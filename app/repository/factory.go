package repository

import (
	"sync"

	"gorm.io/gorm"

	"github.com/ManuelReschke/BeanCounter/internal/pkg/loyalty"
)

// Repositories bundles the repositories backed by one database
type Repositories struct {
	Loyalty loyalty.Repository
	Report  ReportRepository
}

// NewRepositories creates all repositories for db
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Loyalty: loyalty.NewRepository(db),
		Report:  NewReportRepository(db),
	}
}

// Factory manages repository instances and ensures they are singletons
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{
		db: db,
	}
}

// GetRepositories returns a singleton instance of all repositories
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

// GetLoyaltyRepository returns the repository the loyalty engine runs on
func (f *Factory) GetLoyaltyRepository() loyalty.Repository {
	return f.GetRepositories().Loyalty
}

// GetReportRepository returns the report repository instance
func (f *Factory) GetReportRepository() ReportRepository {
	return f.GetRepositories().Report
}

package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/stylelens-backend/internal/logger"
	"github.com/yungbote/stylelens-backend/internal/repos"
)

type Repos struct {
	Jobs     repos.AnalysisJobRepo
	Items    repos.DetectedItemRepo
	Products repos.ProductRepo
	Mappings repos.ItemProductMappingRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Jobs:     repos.NewAnalysisJobRepo(db, log),
		Items:    repos.NewDetectedItemRepo(db, log),
		Products: repos.NewProductRepo(db, log),
		Mappings: repos.NewItemProductMappingRepo(db, log),
	}
}

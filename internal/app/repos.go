package app

import (
	"gorm.io/gorm"

	"github.com/voxbridge/voxbridge-backend/internal/logger"
	"github.com/voxbridge/voxbridge-backend/internal/repos"
)

type Repos struct {
	User        repos.UserRepo
	TokenSecret repos.TokenSecretRepo
	Job         repos.JobRepo
	Audio       repos.AudioRepo
	Transcript  repos.TranscriptRepo
	Settings    repos.SettingsRepo
	Runner      repos.RunnerRepo
	Metadata    repos.MetadataRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		User:        repos.NewUserRepo(db, log),
		TokenSecret: repos.NewTokenSecretRepo(db, log),
		Job:         repos.NewJobRepo(db, log),
		Audio:       repos.NewAudioRepo(db, log),
		Transcript:  repos.NewTranscriptRepo(db, log),
		Settings:    repos.NewSettingsRepo(db, log),
		Runner:      repos.NewRunnerRepo(db, log),
		Metadata:    repos.NewMetadataRepo(db, log),
	}
}

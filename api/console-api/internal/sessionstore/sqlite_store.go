// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_sessionstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/rapidaai/voice-console/pkg/commons"
)

type sqliteStore struct {
	db     *gorm.DB
	logger commons.Logger
}

// NewSQLiteStore opens (or creates) the registry database at path and
// migrates the known_sessions table.
func NewSQLiteStore(logger commons.Logger, path string) (Store, func() error, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session registry %s: %w", path, err)
	}
	if err := db.AutoMigrate(&KnownSession{}); err != nil {
		return nil, nil, fmt.Errorf("failed to migrate session registry: %w", err)
	}
	closer := func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	logger.Infof("session registry opened: path=%s", path)
	return &sqliteStore{db: db, logger: logger}, closer, nil
}

func (s *sqliteStore) Save(ctx context.Context, ks *KnownSession) error {
	if err := prepare(ks); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(ks).Error; err != nil {
		return fmt.Errorf("failed to save known session %s: %w", ks.SessionID, err)
	}
	s.logger.Debugf("saved known session: sessionId=%s, endpoint=%s", ks.SessionID, ks.Endpoint)
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, sessionID string) (*KnownSession, error) {
	var ks KnownSession
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&ks).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get known session %s: %w", sessionID, err)
	}
	return &ks, nil
}

func (s *sqliteStore) List(ctx context.Context) ([]KnownSession, error) {
	var sessions []KnownSession
	if err := s.db.WithContext(ctx).Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to list known sessions: %w", err)
	}
	sortByRecency(sessions)
	return sessions, nil
}

func (s *sqliteStore) Remove(ctx context.Context, sessionID string) error {
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&KnownSession{}).Error
	if err != nil {
		return fmt.Errorf("failed to remove known session %s: %w", sessionID, err)
	}
	s.logger.Debugf("removed known session: sessionId=%s", sessionID)
	return nil
}

func (s *sqliteStore) Touch(ctx context.Context, sessionID string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&KnownSession{}).
		Where("session_id = ?", sessionID).
		Update("last_connected", at)
	if result.Error != nil {
		return fmt.Errorf("failed to touch known session %s: %w", sessionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

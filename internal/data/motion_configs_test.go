package data_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensensor/lightNVR-sub006/internal/data"
	"github.com/opensensor/lightNVR-sub006/internal/recording"
)

func TestMotionConfigModel_LoadAll(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"stream_name", "enabled", "pre_buffer_seconds", "post_buffer_seconds", "max_file_duration"}).
		AddRow("cam-1", true, 5, 10, 300).
		AddRow("cam-2", false, 3, 8, 0)
	mock.ExpectQuery("SELECT stream_name, enabled").WillReturnRows(rows)

	m := data.MotionConfigModel{DB: db}
	cfgs, err := m.LoadAll(context.Background())
	require.NoError(t, err)

	require.Len(t, cfgs, 2)
	assert.Equal(t, recording.StreamConfig{Enabled: true, PreBufferSeconds: 5, PostBufferSeconds: 10, MaxFileDuration: 300}, cfgs["cam-1"])
	assert.False(t, cfgs["cam-2"].Enabled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMotionConfigModel_LoadMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT enabled").WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"enabled", "pre_buffer_seconds", "post_buffer_seconds", "max_file_duration"}))

	m := data.MotionConfigModel{DB: db}
	_, err = m.Load(context.Background(), "ghost")
	assert.ErrorIs(t, err, data.ErrRecordNotFound)
}

func TestMotionConfigModel_SaveUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO motion_configs").
		WithArgs("cam-1", true, 5, 10, 300).
		WillReturnResult(sqlmock.NewResult(1, 1))

	m := data.MotionConfigModel{DB: db}
	err = m.Save(context.Background(), "cam-1", recording.StreamConfig{
		Enabled: true, PreBufferSeconds: 5, PostBufferSeconds: 10, MaxFileDuration: 300,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Package sqlite 提供基于 SQLite 的存储实现
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"flotilla-coordinator/internal/repository"
	"flotilla-coordinator/internal/types"
)

// schema 是数据库的权威表结构
const schema = `
CREATE TABLE IF NOT EXISTS installations (
	id TEXT PRIMARY KEY,
	installation_code TEXT NOT NULL UNIQUE COLLATE NOCASE,
	name TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS plants (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	installation_id TEXT NOT NULL REFERENCES installations(id)
);
CREATE TABLE IF NOT EXISTS decks (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	plant_id TEXT NOT NULL REFERENCES plants(id)
);
CREATE TABLE IF NOT EXISTS areas (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	deck_id TEXT
);
CREATE TABLE IF NOT EXISTS robots (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	isar_id TEXT NOT NULL UNIQUE,
	current_area_id TEXT,
	current_mission_id TEXT,
	isar_connected INTEGER NOT NULL DEFAULT 0,
	current_installation_id TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS mission_runs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	robot_id TEXT NOT NULL,
	area_id TEXT,
	deck_id TEXT,
	installation_code TEXT NOT NULL DEFAULT '',
	desired_start_time DATETIME,
	status_reason TEXT
);
`

// Store 是 SQLite 存储，按实体提供各个仓库
type Store struct {
	db *sql.DB
}

// Open 打开 (或创建) 数据库并初始化表结构
// path 为 ":memory:" 时使用内存数据库
func Open(path string) (*Store, error) {
	// 外键约束写在 DSN 里，连接池中的每个连接都会启用
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// 每个连接都是独立的内存库，只能保留一个连接
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Robots() repository.RobotRepository               { return &RobotRepository{db: s.db} }
func (s *Store) MissionRuns() repository.MissionRunRepository     { return &MissionRunRepository{db: s.db} }
func (s *Store) Areas() repository.AreaRepository                 { return &AreaRepository{db: s.db} }
func (s *Store) Decks() repository.DeckRepository                 { return &DeckRepository{db: s.db} }
func (s *Store) Installations() repository.InstallationRepository { return &InstallationRepository{db: s.db} }

// nullString 把空字符串写成 NULL
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// RobotRepository 实现 repository.RobotRepository
type RobotRepository struct {
	db *sql.DB
}

const robotColumns = "id, name, isar_id, current_area_id, current_mission_id, isar_connected, current_installation_id"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRobot(row rowScanner) (*types.Robot, error) {
	var (
		robot     types.Robot
		areaID    sql.NullString
		missionID sql.NullString
	)
	err := row.Scan(&robot.ID, &robot.Name, &robot.IsarID, &areaID, &missionID, &robot.IsarConnected, &robot.CurrentInstallationID)
	if err != nil {
		return nil, err
	}
	robot.CurrentAreaID = areaID.String
	robot.CurrentMissionID = missionID.String
	return &robot, nil
}

func (r *RobotRepository) findOne(ctx context.Context, where string, arg string) (*types.Robot, error) {
	robot, err := scanRobot(r.db.QueryRowContext(ctx, "SELECT "+robotColumns+" FROM robots WHERE "+where+" = ?", arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get robot: %w", err)
	}
	return robot, nil
}

func (r *RobotRepository) FindByIsarID(ctx context.Context, isarID string) (*types.Robot, error) {
	return r.findOne(ctx, "isar_id", isarID)
}

func (r *RobotRepository) FindByID(ctx context.Context, id string) (*types.Robot, error) {
	return r.findOne(ctx, "id", id)
}

func (r *RobotRepository) List(ctx context.Context) ([]*types.Robot, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+robotColumns+" FROM robots ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list robots: %w", err)
	}
	defer rows.Close()

	var robots []*types.Robot
	for rows.Next() {
		robot, err := scanRobot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan robot: %w", err)
		}
		robots = append(robots, robot)
	}
	return robots, rows.Err()
}

// exec 执行一条针对单个机器人的更新，没有命中行时返回 ErrNotFound
func (r *RobotRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update robot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update robot: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *RobotRepository) SetCurrentArea(ctx context.Context, id, areaID string) error {
	return r.exec(ctx, "UPDATE robots SET current_area_id = ? WHERE id = ?", nullString(areaID), id)
}

func (r *RobotRepository) SetConnected(ctx context.Context, id string, connected bool) error {
	return r.exec(ctx, "UPDATE robots SET isar_connected = ? WHERE id = ?", connected, id)
}

func (r *RobotRepository) SetCurrentMission(ctx context.Context, id, missionID string) error {
	return r.exec(ctx, "UPDATE robots SET current_mission_id = ? WHERE id = ?", nullString(missionID), id)
}

// Insert 写入或替换一个机器人
func (r *RobotRepository) Insert(ctx context.Context, robot *types.Robot) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO robots ("+robotColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		robot.ID, robot.Name, robot.IsarID, nullString(robot.CurrentAreaID), nullString(robot.CurrentMissionID),
		robot.IsarConnected, robot.CurrentInstallationID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert robot: %w", err)
	}
	return nil
}

// MissionRunRepository 实现 repository.MissionRunRepository
type MissionRunRepository struct {
	db *sql.DB
}

func (r *MissionRunRepository) FindByID(ctx context.Context, id string) (*types.MissionRun, error) {
	var (
		run       types.MissionRun
		areaID    sql.NullString
		deckID    sql.NullString
		startTime sql.NullTime
		reason    sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT id, name, status, robot_id, area_id, deck_id, installation_code, desired_start_time, status_reason FROM mission_runs WHERE id = ?",
		id,
	).Scan(&run.ID, &run.Name, &run.Status, &run.RobotID, &areaID, &deckID, &run.InstallationCode, &startTime, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mission run: %w", err)
	}
	run.AreaID = areaID.String
	run.DeckID = deckID.String
	run.StatusReason = reason.String
	if startTime.Valid {
		run.DesiredStartTime = startTime.Time
	}
	return &run, nil
}

// Save 插入或整体更新一个任务执行实例
// 更新带条件执行，已处于终态的行不会被覆盖，此时返回 ErrRunFinished
func (r *MissionRunRepository) Save(ctx context.Context, run *types.MissionRun) error {
	var start sql.NullTime
	if !run.DesiredStartTime.IsZero() {
		start = sql.NullTime{Time: run.DesiredStartTime.UTC().Truncate(time.Second), Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO mission_runs (id, name, status, robot_id, area_id, deck_id, installation_code, desired_start_time, status_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			robot_id = excluded.robot_id,
			area_id = excluded.area_id,
			deck_id = excluded.deck_id,
			installation_code = excluded.installation_code,
			desired_start_time = excluded.desired_start_time,
			status_reason = excluded.status_reason
		WHERE mission_runs.status NOT IN (?, ?, ?)`,
		run.ID, run.Name, run.Status, run.RobotID, nullString(run.AreaID), nullString(run.DeckID),
		run.InstallationCode, start, nullString(run.StatusReason),
		types.MissionStatusSuccessful, types.MissionStatusFailed, types.MissionStatusAborted,
	)
	if err != nil {
		return fmt.Errorf("failed to save mission run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save mission run: %w", err)
	}
	if n == 0 {
		return repository.ErrRunFinished
	}
	return nil
}

type AreaRepository struct {
	db *sql.DB
}

func (r *AreaRepository) FindByID(ctx context.Context, id string) (*types.Area, error) {
	var (
		area   types.Area
		deckID sql.NullString
	)
	err := r.db.QueryRowContext(ctx, "SELECT id, name, deck_id FROM areas WHERE id = ?", id).Scan(&area.ID, &area.Name, &deckID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get area: %w", err)
	}
	area.DeckID = deckID.String
	return &area, nil
}

type DeckRepository struct {
	db *sql.DB
}

func (r *DeckRepository) FindByID(ctx context.Context, id string) (*types.Deck, error) {
	var deck types.Deck
	err := r.db.QueryRowContext(ctx, "SELECT id, name, plant_id FROM decks WHERE id = ?", id).Scan(&deck.ID, &deck.Name, &deck.PlantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deck: %w", err)
	}
	return &deck, nil
}

type InstallationRepository struct {
	db *sql.DB
}

func (r *InstallationRepository) find(ctx context.Context, column, arg string) (*types.Installation, error) {
	var inst types.Installation
	err := r.db.QueryRowContext(ctx,
		"SELECT id, installation_code, name FROM installations WHERE "+column+" = ?", arg,
	).Scan(&inst.ID, &inst.InstallationCode, &inst.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get installation: %w", err)
	}
	return &inst, nil
}

func (r *InstallationRepository) FindByID(ctx context.Context, id string) (*types.Installation, error) {
	return r.find(ctx, "id", id)
}

// FindByCode 按安装代码查找，列使用 NOCASE 排序规则
func (r *InstallationRepository) FindByCode(ctx context.Context, code string) (*types.Installation, error) {
	return r.find(ctx, "installation_code", code)
}

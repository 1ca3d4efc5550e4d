package sqlite

import (
	"context"
	"fmt"

	"flotilla-coordinator/internal/repository"
)

// Seed 将拓扑写入数据库，已存在的记录会被替换
func (s *Store) Seed(ctx context.Context, topo repository.Topology) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin seed: %w", err)
	}
	defer tx.Rollback()

	inst := topo.Installation
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO installations (id, installation_code, name) VALUES (?, ?, ?)",
		inst.ID, inst.InstallationCode, inst.Name); err != nil {
		return fmt.Errorf("failed to seed installation: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO plants (id, name, installation_id) VALUES (?, ?, ?)",
		topo.Plant.ID, topo.Plant.Name, topo.Plant.InstallationID); err != nil {
		return fmt.Errorf("failed to seed plant: %w", err)
	}
	for _, d := range topo.Decks {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO decks (id, name, plant_id) VALUES (?, ?, ?)",
			d.ID, d.Name, d.PlantID); err != nil {
			return fmt.Errorf("failed to seed deck: %w", err)
		}
	}
	for _, a := range topo.Areas {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO areas (id, name, deck_id) VALUES (?, ?, ?)",
			a.ID, a.Name, nullString(a.DeckID)); err != nil {
			return fmt.Errorf("failed to seed area: %w", err)
		}
	}
	for _, r := range topo.Robots {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO robots ("+robotColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
			r.ID, r.Name, r.IsarID, nullString(r.CurrentAreaID), nullString(r.CurrentMissionID),
			r.IsarConnected, r.CurrentInstallationID); err != nil {
			return fmt.Errorf("failed to seed robot: %w", err)
		}
	}
	return tx.Commit()
}

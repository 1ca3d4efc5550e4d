// Package memory 提供基于内存 map 的存储实现，用于测试和演示模式
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"flotilla-coordinator/internal/repository"
	"flotilla-coordinator/internal/types"
)

// Store 在内存中保存所有实体，返回的都是副本
type Store struct {
	mu            sync.RWMutex
	robots        map[string]types.Robot
	runs          map[string]types.MissionRun
	areas         map[string]types.Area
	decks         map[string]types.Deck
	plants        map[string]types.Plant
	installations map[string]types.Installation
}

// NewStore 创建一个空的内存存储
func NewStore() *Store {
	return &Store{
		robots:        make(map[string]types.Robot),
		runs:          make(map[string]types.MissionRun),
		areas:         make(map[string]types.Area),
		decks:         make(map[string]types.Deck),
		plants:        make(map[string]types.Plant),
		installations: make(map[string]types.Installation),
	}
}

func (s *Store) PutRobot(r types.Robot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.robots[r.ID] = r
}

// DeleteRobot 模拟存储层并发删除机器人
func (s *Store) DeleteRobot(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.robots, id)
}

func (s *Store) PutMissionRun(r types.MissionRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
}

func (s *Store) PutArea(a types.Area) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.areas[a.ID] = a
}

func (s *Store) PutDeck(d types.Deck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decks[d.ID] = d
}

func (s *Store) PutPlant(p types.Plant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plants[p.ID] = p
}

func (s *Store) PutInstallation(i types.Installation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installations[i.ID] = i
}

func (s *Store) Robots() repository.RobotRepository               { return robotRepo{s} }
func (s *Store) MissionRuns() repository.MissionRunRepository     { return runRepo{s} }
func (s *Store) Areas() repository.AreaRepository                 { return areaRepo{s} }
func (s *Store) Decks() repository.DeckRepository                 { return deckRepo{s} }
func (s *Store) Installations() repository.InstallationRepository { return installationRepo{s} }

type robotRepo struct{ s *Store }

func (r robotRepo) FindByIsarID(_ context.Context, isarID string) (*types.Robot, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, robot := range r.s.robots {
		if robot.IsarID == isarID {
			return &robot, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r robotRepo) FindByID(_ context.Context, id string) (*types.Robot, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	robot, ok := r.s.robots[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &robot, nil
}

func (r robotRepo) List(_ context.Context) ([]*types.Robot, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	robots := make([]*types.Robot, 0, len(r.s.robots))
	for _, robot := range r.s.robots {
		robot := robot
		robots = append(robots, &robot)
	}
	sort.Slice(robots, func(i, j int) bool { return robots[i].ID < robots[j].ID })
	return robots, nil
}

// update 在写锁下修改一个机器人
func (r robotRepo) update(id string, fn func(*types.Robot)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	robot, ok := r.s.robots[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(&robot)
	r.s.robots[id] = robot
	return nil
}

func (r robotRepo) SetCurrentArea(_ context.Context, id, areaID string) error {
	return r.update(id, func(robot *types.Robot) { robot.CurrentAreaID = areaID })
}

func (r robotRepo) SetConnected(_ context.Context, id string, connected bool) error {
	return r.update(id, func(robot *types.Robot) { robot.IsarConnected = connected })
}

func (r robotRepo) SetCurrentMission(_ context.Context, id, missionID string) error {
	return r.update(id, func(robot *types.Robot) { robot.CurrentMissionID = missionID })
}

type runRepo struct{ s *Store }

func (r runRepo) FindByID(_ context.Context, id string) (*types.MissionRun, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	run, ok := r.s.runs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &run, nil
}

func (r runRepo) Save(_ context.Context, run *types.MissionRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if stored, ok := r.s.runs[run.ID]; ok && stored.Status.IsTerminal() {
		return repository.ErrRunFinished
	}
	r.s.runs[run.ID] = *run
	return nil
}

type areaRepo struct{ s *Store }

func (r areaRepo) FindByID(_ context.Context, id string) (*types.Area, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	area, ok := r.s.areas[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &area, nil
}

type deckRepo struct{ s *Store }

func (r deckRepo) FindByID(_ context.Context, id string) (*types.Deck, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	deck, ok := r.s.decks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &deck, nil
}

type installationRepo struct{ s *Store }

func (r installationRepo) FindByID(_ context.Context, id string) (*types.Installation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	inst, ok := r.s.installations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &inst, nil
}

// FindByCode 按安装代码查找，不区分大小写
func (r installationRepo) FindByCode(_ context.Context, code string) (*types.Installation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, inst := range r.s.installations {
		if strings.EqualFold(inst.InstallationCode, code) {
			return &inst, nil
		}
	}
	return nil, repository.ErrNotFound
}

// Seed 将拓扑写入内存存储
func (s *Store) Seed(topo repository.Topology) {
	s.PutInstallation(topo.Installation)
	s.PutPlant(topo.Plant)
	for _, d := range topo.Decks {
		s.PutDeck(d)
	}
	for _, a := range topo.Areas {
		s.PutArea(a)
	}
	for _, r := range topo.Robots {
		s.PutRobot(r)
	}
}

package repository

import (
	"fmt"

	"github.com/google/uuid"

	"flotilla-coordinator/internal/types"
)

// Topology 是一组用于演示或测试的位置层级和机器人
type Topology struct {
	Installation types.Installation
	Plant        types.Plant
	Decks        []types.Deck
	Areas        []types.Area
	Robots       []types.Robot
}

// DemoTopology 生成一个包含两层甲板、每层一个区域和两台机器人的安装点
func DemoTopology(code string) Topology {
	inst := types.Installation{ID: uuid.NewString(), InstallationCode: code, Name: code}
	plant := types.Plant{ID: uuid.NewString(), Name: code + "-plant", InstallationID: inst.ID}

	var topo Topology
	topo.Installation = inst
	topo.Plant = plant
	for i := 1; i <= 2; i++ {
		deck := types.Deck{ID: uuid.NewString(), Name: fmt.Sprintf("deck-%d", i), PlantID: plant.ID}
		area := types.Area{ID: uuid.NewString(), Name: fmt.Sprintf("area-%d", i), DeckID: deck.ID}
		topo.Decks = append(topo.Decks, deck)
		topo.Areas = append(topo.Areas, area)
		topo.Robots = append(topo.Robots, types.Robot{
			ID:                    uuid.NewString(),
			Name:                  fmt.Sprintf("robot-%d", i),
			IsarID:                fmt.Sprintf("isar-%d", i),
			CurrentAreaID:         area.ID,
			IsarConnected:         true,
			CurrentInstallationID: inst.ID,
		})
	}
	return topo
}


package catalog

import (
	"context"
	stdErrors "errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SeedDefinitions 对应种子文件 configs/agents.yaml 的结构。
type SeedDefinitions struct {
	Agents []SeedAgent `yaml:"agents"`
}

// SeedAgent 描述一个在启动阶段预注册的智能体。
type SeedAgent struct {
	Name       string  `yaml:"name"`
	Capability string  `yaml:"capability"`
	Price      float64 `yaml:"price"`
	Endpoint   string  `yaml:"endpoint"`
	Rating     float64 `yaml:"rating"`
}

// LoadSeedDefinitions 解析智能体种子文件。路径为空时返回空定义。
func LoadSeedDefinitions(path string) (SeedDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return SeedDefinitions{}, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return SeedDefinitions{}, fmt.Errorf("读取种子文件失败: %w", err)
	}
	var defs SeedDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return SeedDefinitions{}, fmt.Errorf("解析种子文件失败: %w", err)
	}
	return defs, nil
}

// ApplySeeds 将种子智能体写入目录。已存在的 (name, capability) 会被跳过。
func ApplySeeds(ctx context.Context, store Store, defs SeedDefinitions) (int, error) {
	applied := 0
	for _, seed := range defs.Agents {
		_, err := store.Register(ctx, Registration{
			Name:       seed.Name,
			Capability: seed.Capability,
			Price:      seed.Price,
			Endpoint:   seed.Endpoint,
			Rating:     seed.Rating,
		})
		if err != nil {
			if stdErrors.Is(err, ErrAgentConflict) {
				continue
			}
			return applied, err
		}
		applied++
	}
	return applied, nil
}

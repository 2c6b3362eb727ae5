package selection

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "OpenAgora/internal/errors"
)

// Weights 是买方提交的选择偏好。三个权重为相对比重，无需归一；
// Temperature 控制抽签的尖锐程度，必须为正。
type Weights struct {
	Price       float64 `json:"price_weight" yaml:"price_weight"`
	Quality     float64 `json:"quality_weight" yaml:"quality_weight"`
	Speed       float64 `json:"speed_weight" yaml:"speed_weight"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
}

// Validate 检查权重配置的合法性。
func (w Weights) Validate() error {
	if w.Price < 0 || w.Quality < 0 || w.Speed < 0 {
		return ErrInvalidWeights
	}
	if w.Temperature <= 0 {
		return ErrInvalidWeights
	}
	return nil
}

// DefaultWeights 返回均衡策略的缺省权重。
func DefaultWeights() Weights {
	return Weights{Price: 0.4, Quality: 0.4, Speed: 0.2, Temperature: 1.0}
}

var (
	// ErrNoCandidates 表示目录中没有能提供所需能力的智能体。
	ErrNoCandidates = xerrors.New(CodeNoCandidates, "no eligible agents")
	// ErrInvalidWeights 表示权重或温度配置非法。
	ErrInvalidWeights = xerrors.New(CodeInvalidWeights, "invalid selection weights", xerrors.WithSeverity(xerrors.SeverityWarning))
)

const (
	CodeNoCandidates   xerrors.Code = "NO_CANDIDATES"
	CodeInvalidWeights xerrors.Code = "INVALID_WEIGHTS"
)

func init() {
	xerrors.Register(CodeNoCandidates, xerrors.Attributes{
		Message:   "no eligible agents",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInvalidWeights, xerrors.Attributes{
		Message:   "invalid selection weights",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// ProfileDefinitions 对应 configs/profiles.yaml 的结构，
// 预置 budget / quality / balanced 等命名策略。
type ProfileDefinitions struct {
	Profiles map[string]Weights `yaml:"profiles"`
}

// LoadProfiles 解析命名权重策略文件。路径为空时返回空定义。
func LoadProfiles(path string) (ProfileDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ProfileDefinitions{Profiles: map[string]Weights{}}, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return ProfileDefinitions{}, fmt.Errorf("读取策略文件失败: %w", err)
	}
	var defs ProfileDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ProfileDefinitions{}, fmt.Errorf("解析策略文件失败: %w", err)
	}
	if defs.Profiles == nil {
		defs.Profiles = map[string]Weights{}
	}
	return defs, nil
}

// Resolve 返回命名策略的权重。未命中时返回缺省权重。
func (d ProfileDefinitions) Resolve(name string) Weights {
	if weights, ok := d.Profiles[name]; ok {
		return weights
	}
	return DefaultWeights()
}

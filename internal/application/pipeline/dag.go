package pipeline

import (
	"fmt"
	"sort"

	"film-ai-api/internal/domain/entity"
)

// planWaves 对本次请求的阶段做拓扑分层（Kahn）。
// 只考虑两端都在请求集合内的边；同一层内的阶段互不依赖，可并行执行。
func planWaves(stages []Stage) ([][]Stage, error) {
	byName := make(map[entity.StageName]Stage, len(stages))
	order := make(map[entity.StageName]int, len(stages))
	for i, s := range stages {
		byName[s.Name()] = s
		order[s.Name()] = i
	}

	inDegree := make(map[entity.StageName]int, len(stages))
	dependents := make(map[entity.StageName][]entity.StageName, len(stages))
	for _, s := range stages {
		inDegree[s.Name()] += 0
		seen := make(map[entity.StageName]struct{})
		for _, up := range append(append([]entity.StageName{}, s.Dependencies()...), s.After()...) {
			if _, ok := byName[up]; !ok {
				continue
			}
			if _, dup := seen[up]; dup {
				continue
			}
			seen[up] = struct{}{}
			inDegree[s.Name()]++
			dependents[up] = append(dependents[up], s.Name())
		}
	}

	var ready []entity.StageName
	for _, s := range stages {
		if inDegree[s.Name()] == 0 {
			ready = append(ready, s.Name())
		}
	}

	var waves [][]Stage
	visited := 0
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return order[ready[i]] < order[ready[j]] })
		wave := make([]Stage, 0, len(ready))
		var next []entity.StageName
		for _, name := range ready {
			wave = append(wave, byName[name])
			visited++
			for _, d := range dependents[name] {
				inDegree[d]--
				if inDegree[d] == 0 {
					next = append(next, d)
				}
			}
		}
		waves = append(waves, wave)
		ready = next
	}

	if visited != len(stages) {
		return nil, fmt.Errorf("stage graph contains a cycle")
	}
	return waves, nil
}

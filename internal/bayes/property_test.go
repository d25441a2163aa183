package bayes

import (
	"context"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// tablesFrom spreads P(state=1) values over the reference network's rows
// in declaration order: PPH, PPR, then four rows per evidence node.
func tablesFrom(net *Network, ps []float64) map[string][][]float64 {
	tables := make(map[string][][]float64)
	k := 0
	for _, name := range net.NodeNames() {
		rows := make([][]float64, net.RowCount(name))
		for r := range rows {
			rows[r] = []float64{1 - ps[k], ps[k]}
			k++
		}
		tables[name] = rows
	}
	return tables
}

func evidenceFrom(obs []int) map[string]int {
	names := []string{"GPS", "PC", "PMD", "PR"}
	ev := make(map[string]int)
	for i, v := range obs {
		if v >= 0 {
			ev[names[i]] = v
		}
	}
	return ev
}

const referenceRows = 18

func TestProperty_PosteriorsNormalized(t *testing.T) {
	net := Reference()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("every posterior sums to 1", prop.ForAll(
		func(ps []float64, obs []int) bool {
			res, err := net.Infer(context.Background(), tablesFrom(net, ps), evidenceFrom(obs))
			if err != nil {
				return false
			}
			for _, m := range res.Marginals {
				sum := 0.0
				for _, p := range m.Distribution {
					if p < 0 || p > 1 {
						return false
					}
					sum += p
				}
				if math.Abs(sum-1) > DefaultTolerance {
					return false
				}
			}
			return res.Likelihood > 0 && res.Likelihood <= 1
		},
		gen.SliceOfN(referenceRows, gen.Float64Range(0.01, 0.99)),
		gen.SliceOfN(4, gen.IntRange(-1, 1)),
	))

	properties.TestingRun(t)
}

func TestProperty_InferenceIsDeterministic(t *testing.T) {
	net := Reference()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("identical inputs give bit-identical outputs", prop.ForAll(
		func(ps []float64, obs []int) bool {
			tables := tablesFrom(net, ps)
			ev := evidenceFrom(obs)
			a, errA := net.Infer(context.Background(), tables, ev)
			b, errB := net.Infer(context.Background(), tables, ev)
			if errA != nil || errB != nil {
				return errA != nil && errB != nil
			}
			if math.Float64bits(a.Likelihood) != math.Float64bits(b.Likelihood) {
				return false
			}
			for k := range a.Marginals {
				for s := range a.Marginals[k].Distribution {
					if math.Float64bits(a.Marginals[k].Distribution[s]) != math.Float64bits(b.Marginals[k].Distribution[s]) {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOfN(referenceRows, gen.Float64Range(0, 1)),
		gen.SliceOfN(4, gen.IntRange(-1, 1)),
	))

	properties.TestingRun(t)
}

func TestProperty_MatchesEnumeration(t *testing.T) {
	net := Reference()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("variable elimination agrees with brute force", prop.ForAll(
		func(ps []float64, obs []int) bool {
			tables := tablesFrom(net, ps)
			ev := evidenceFrom(obs)
			res, err := net.Infer(context.Background(), tables, ev)
			if err != nil {
				return false
			}
			for _, target := range net.Targets() {
				got, _ := res.Marginal(target)
				want := enumerate(net, tables, ev, target)
				for s := range want {
					if math.Abs(got[s]-want[s]) > 1e-9 {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOfN(referenceRows, gen.Float64Range(0.01, 0.99)),
		gen.SliceOfN(4, gen.IntRange(-1, 1)),
	))

	properties.TestingRun(t)
}

func TestProperty_PPMSumsToScale(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("ppm entries sum to Scale and stay within one unit", prop.ForAll(
		func(ws []float64) bool {
			total := 0.0
			for _, w := range ws {
				total += w
			}
			dist := make([]float64, len(ws))
			for i, w := range ws {
				dist[i] = w / total
			}
			ppm := ToPPM(dist)
			var sum int64
			for i, v := range ppm {
				if math.Abs(float64(v)-dist[i]*Scale) >= 1 {
					return false
				}
				sum += v
			}
			return sum == Scale
		},
		gen.SliceOfN(5, gen.Float64Range(0.001, 1)),
	))

	properties.TestingRun(t)
}

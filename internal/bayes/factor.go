package bayes

// factor is a table over vars (ascending node index). vals is row-major
// with the last variable varying fastest. A factor with no vars is a scalar.
type factor struct {
	vars []int
	card []int
	vals []float64
}

func scalar(v float64) factor {
	return factor{vals: []float64{v}}
}

func (f factor) pos(v int) int {
	for j, x := range f.vars {
		if x == v {
			return j
		}
	}
	return -1
}

func (f factor) strides() []int {
	s := make([]int, len(f.vars))
	acc := 1
	for j := len(f.vars) - 1; j >= 0; j-- {
		s[j] = acc
		acc *= f.card[j]
	}
	return s
}

// next advances a mixed-radix counter, last digit fastest.
func next(assign, card []int) {
	for j := len(assign) - 1; j >= 0; j-- {
		assign[j]++
		if assign[j] < card[j] {
			return
		}
		assign[j] = 0
	}
}

func tableSize(card []int) int {
	size := 1
	for _, c := range card {
		size *= c
	}
	return size
}

// reduce fixes every observed variable of f to its value and drops it.
func (f factor) reduce(obs []int) factor {
	strides := f.strides()
	base := 0
	var keep []int
	out := factor{}
	for j, v := range f.vars {
		if obs[v] >= 0 {
			base += obs[v] * strides[j]
			continue
		}
		keep = append(keep, j)
		out.vars = append(out.vars, v)
		out.card = append(out.card, f.card[j])
	}
	if len(keep) == len(f.vars) {
		return f
	}

	out.vals = make([]float64, tableSize(out.card))
	assign := make([]int, len(keep))
	for idx := range out.vals {
		off := base
		for k, j := range keep {
			off += assign[k] * strides[j]
		}
		out.vals[idx] = f.vals[off]
		next(assign, out.card)
	}
	return out
}

// product multiplies a and b over the union of their variables.
func product(a, b factor) factor {
	out := factor{}
	i, j := 0, 0
	for i < len(a.vars) || j < len(b.vars) {
		switch {
		case j >= len(b.vars) || (i < len(a.vars) && a.vars[i] < b.vars[j]):
			out.vars = append(out.vars, a.vars[i])
			out.card = append(out.card, a.card[i])
			i++
		case i >= len(a.vars) || b.vars[j] < a.vars[i]:
			out.vars = append(out.vars, b.vars[j])
			out.card = append(out.card, b.card[j])
			j++
		default:
			out.vars = append(out.vars, a.vars[i])
			out.card = append(out.card, a.card[i])
			i++
			j++
		}
	}

	// Per output position, the stride in a and b (0 when absent).
	sa, sb := a.strides(), b.strides()
	strideA := make([]int, len(out.vars))
	strideB := make([]int, len(out.vars))
	for k, v := range out.vars {
		if p := a.pos(v); p >= 0 {
			strideA[k] = sa[p]
		}
		if p := b.pos(v); p >= 0 {
			strideB[k] = sb[p]
		}
	}

	out.vals = make([]float64, tableSize(out.card))
	assign := make([]int, len(out.vars))
	for idx := range out.vals {
		ia, ib := 0, 0
		for k, x := range assign {
			ia += x * strideA[k]
			ib += x * strideB[k]
		}
		out.vals[idx] = a.vals[ia] * b.vals[ib]
		next(assign, out.card)
	}
	return out
}

// sumOut marginalizes v out of f. Terms are added in ascending state order.
func (f factor) sumOut(v int) factor {
	p := f.pos(v)
	if p < 0 {
		return f
	}
	out := factor{
		vars: append(append([]int(nil), f.vars[:p]...), f.vars[p+1:]...),
		card: append(append([]int(nil), f.card[:p]...), f.card[p+1:]...),
	}
	strides := f.strides()
	inner := strides[p]
	outer := len(f.vals) / (inner * f.card[p])

	out.vals = make([]float64, outer*inner)
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			sum := 0.0
			for s := 0; s < f.card[p]; s++ {
				sum += f.vals[(o*f.card[p]+s)*inner+in]
			}
			out.vals[o*inner+in] = sum
		}
	}
	return out
}

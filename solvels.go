// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.13
//

package gosdr

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// SolveLS solves the observation equation using weighted least squares
// - dx = (G^t W G)^-1 G^t W dr
// - w holds the diagonal of W; nil means unit weights
// - Return the error covariance matrix (G^t W G)^-1 as cov
func SolveLS(G mat.Matrix, dr mat.Vector, w []float64) (dx *mat.VecDense, cov *mat.SymDense, err error) {

	n, m := G.Dims()
	if dr.Len() != n {
		return nil, nil, fmt.Errorf("invalid matrix size. G(%d x %d), dr(%d x 1)", n, m, dr.Len())
	}
	if w != nil && len(w) != n {
		return nil, nil, fmt.Errorf("invalid matrix size. G(%d x %d), W(%d x %d)", n, m, len(w), len(w))
	}
	if n < m {
		return nil, nil, fmt.Errorf("%w: %d equations < %d unknowns", ErrUnderDetermined, n, m)
	}

	// A (G^t W G) and b (G^t W dr)
	A := mat.NewSymDense(m, nil)
	b := mat.NewVecDense(m, nil)
	for i := 0; i < n; i++ {
		wi := 1.0
		if w != nil {
			wi = w[i]
		}
		for j := 0; j < m; j++ {
			gij := G.At(i, j)
			b.SetVec(j, b.AtVec(j)+wi*gij*dr.AtVec(i))
			for k := j; k < m; k++ {
				A.SetSym(j, k, A.At(j, k)+wi*gij*G.At(i, k))
			}
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(A); !ok {
		return nil, nil, fmt.Errorf("singular geometry: G^t W G is not positive definite")
	}

	// Solve for x (x = A^-1 b)
	dx = mat.NewVecDense(m, nil)
	if err = chol.SolveVecTo(dx, b); err != nil {
		return nil, nil, err
	}

	// Set (G^T W G)^-1 as the covariance matrix
	cov = mat.NewSymDense(m, nil)
	if err = chol.InverseTo(cov); err != nil {
		return nil, nil, err
	}
	return dx, cov, nil
}

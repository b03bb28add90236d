package space

import (
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/gospectral/basis"
	"github.com/notargets/gospectral/types"
)

// FunctionSpace couples a Basis to its transforms between the N physical
// samples and the M coefficients.
//
// Forward is the discrete projection F = (B^T W B)^-1 B^T W, with B the
// basis functions at the quadrature points and W the weights, so
// Forward(Backward(c)) == c for every basis and rule. Fourier spaces use the
// real FFT instead.
type FunctionSpace struct {
	Basis      *basis.Basis
	B          *mat.Dense // N x M
	F          *mat.Dense // M x N
	BtW        *mat.Dense // M x N, the scalar product
	liftValues []float64
	fft        *fourier.FFT
	fftMu      sync.Mutex
	fftBuf     []complex128
}

func NewFunctionSpace(b *basis.Basis) (fs *FunctionSpace, err error) {
	fs = &FunctionSpace{Basis: b}
	var (
		N, M = b.N, b.M
		BtW  = mat.NewDense(M, N, nil)
		Md   mat.Dense
	)
	fs.B = b.EvalMatrix(b.X)
	for k := 0; k < M; k++ {
		for i := 0; i < N; i++ {
			BtW.Set(k, i, fs.B.At(i, k)*b.W[i])
		}
	}
	fs.BtW = BtW
	Md.Mul(BtW, fs.B)
	var F mat.Dense
	if err = F.Solve(&Md, BtW); err != nil {
		return nil, &types.SingularOperatorError{Operator: "discrete mass " + b.Key(), Detail: err.Error()}
	}
	fs.F = &F
	if lift := b.Lift(); lift != nil {
		fs.liftValues = b.EvalParent(lift, b.Mesh())
	}
	if b.Family == types.Fourier {
		fs.fft = fourier.NewFFT(N)
		fs.fftBuf = make([]complex128, N/2+1)
	}
	return
}

func (fs *FunctionSpace) N() int { return fs.Basis.N }
func (fs *FunctionSpace) M() int { return fs.Basis.M }

// Mesh returns the physical sample points.
func (fs *FunctionSpace) Mesh() []float64 { return fs.Basis.Mesh() }

func (fs *FunctionSpace) Forward(u []float64) (c []float64, err error) {
	c = make([]float64, fs.M())
	err = fs.ForwardTo(c, u)
	return
}

// ForwardTo writes the coefficients of the samples u into c.
func (fs *FunctionSpace) ForwardTo(c, u []float64) (err error) {
	if len(u) != fs.N() || len(c) != fs.M() {
		return types.DimensionMismatchf("%s forward: %d samples into %d coefficients",
			fs.Basis.Key(), len(u), len(c))
	}
	if fs.fft != nil && fs.M() == fs.N() {
		fs.fourierForward(c, u)
		return
	}
	src := u
	if fs.liftValues != nil {
		src = make([]float64, len(u))
		for i := range u {
			src[i] = u[i] - fs.liftValues[i]
		}
	}
	cv := mat.NewVecDense(len(c), c)
	cv.MulVec(fs.F, mat.NewVecDense(len(src), src))
	return
}

func (fs *FunctionSpace) Backward(c []float64) (u []float64, err error) {
	u = make([]float64, fs.N())
	err = fs.BackwardTo(u, c)
	return
}

// BackwardTo evaluates the coefficients c at the sample points into u,
// including the boundary lift.
func (fs *FunctionSpace) BackwardTo(u, c []float64) (err error) {
	if len(u) != fs.N() || len(c) != fs.M() {
		return types.DimensionMismatchf("%s backward: %d coefficients into %d samples",
			fs.Basis.Key(), len(c), len(u))
	}
	if fs.fft != nil && fs.M() == fs.N() {
		fs.fourierBackward(u, c)
		return
	}
	uv := mat.NewVecDense(len(u), u)
	uv.MulVec(fs.B, mat.NewVecDense(len(c), c))
	for i, l := range fs.liftValues {
		u[i] += l
	}
	return
}

// ScalarProduct is (u, phi_k) in the reference measure, computed with the
// quadrature rule.
func (fs *FunctionSpace) ScalarProduct(u []float64) (s []float64, err error) {
	s = make([]float64, fs.M())
	err = fs.ScalarProductTo(s, u)
	return
}

func (fs *FunctionSpace) ScalarProductTo(s, u []float64) (err error) {
	if len(u) != fs.N() || len(s) != fs.M() {
		return types.DimensionMismatchf("%s scalar product: %d samples into %d coefficients",
			fs.Basis.Key(), len(u), len(s))
	}
	sv := mat.NewVecDense(len(s), s)
	sv.MulVec(fs.BtW, mat.NewVecDense(len(u), u))
	return
}

// ToOrthogonal returns the parent coefficients of c, lift included.
func (fs *FunctionSpace) ToOrthogonal(c []float64) ([]float64, error) {
	if len(c) != fs.M() {
		return nil, types.DimensionMismatchf("%s: %d coefficients", fs.Basis.Key(), len(c))
	}
	return fs.Basis.ToParent(c, fs.N(), true), nil
}

// Eval evaluates the expansion at arbitrary physical points.
func (fs *FunctionSpace) Eval(c, x []float64) (u []float64, err error) {
	var p []float64
	if p, err = fs.ToOrthogonal(c); err != nil {
		return
	}
	return fs.Basis.EvalParent(p, x), nil
}

// Derivative differentiates c with the family recurrence. The result is in
// the parent coefficients of target.
func (fs *FunctionSpace) Derivative(c []float64, order int) (dc []float64, target *basis.Basis, err error) {
	var p []float64
	if p, err = fs.ToOrthogonal(c); err != nil {
		return
	}
	return fs.Basis.Derivative(p, order)
}

// fourierForward maps samples to the halfcomplex layout
// [a0, a1, b1, ...] of u = a0 + sum a_k cos(kx) + b_k sin(kx).
func (fs *FunctionSpace) fourierForward(c, u []float64) {
	fs.fftMu.Lock()
	defer fs.fftMu.Unlock()
	var (
		n     = fs.N()
		fn    = float64(n)
		coeff = fs.fft.Coefficients(fs.fftBuf, u)
	)
	c[0] = real(coeff[0]) / fn
	for m := 1; m < n; m++ {
		k, sine := basis.FourierWavenumber(m)
		switch {
		case n%2 == 0 && m == n-1:
			c[m] = real(coeff[k]) / fn
		case sine:
			c[m] = -2 * imag(coeff[k]) / fn
		default:
			c[m] = 2 * real(coeff[k]) / fn
		}
	}
}

func (fs *FunctionSpace) fourierBackward(u, c []float64) {
	fs.fftMu.Lock()
	defer fs.fftMu.Unlock()
	var (
		n     = fs.N()
		coeff = fs.fftBuf
	)
	for k := range coeff {
		coeff[k] = 0
	}
	coeff[0] = complex(c[0], 0)
	for m := 1; m < n; m++ {
		k, sine := basis.FourierWavenumber(m)
		switch {
		case n%2 == 0 && m == n-1:
			coeff[k] = complex(c[m], 0)
		case sine:
			coeff[k] += complex(0, -c[m]/2)
		default:
			coeff[k] += complex(c[m]/2, 0)
		}
	}
	fs.fft.Sequence(u, coeff)
}

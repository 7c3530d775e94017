// Package dosefinding runs the MCP-Mod procedure: a multiple contrast test
// over candidate dose-response shapes, followed by fitting every shape with
// a significant contrast and selecting one of them by AIC.
//
// The building blocks live in the subpackages model, fit, contrast, mct and
// mvt and can be used on their own.
package dosefinding

import (
	"context"
	"math"
	"runtime"

	"github.com/hammal/dosefinding/contrast"
	"github.com/hammal/dosefinding/dferr"
	"github.com/hammal/dosefinding/fit"
	"github.com/hammal/dosefinding/mct"
	"github.com/hammal/dosefinding/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Data of a dose-finding study. Normal data hold one response per patient;
// general data hold dose level estimates Resp at the levels Dose with
// covariance S.
type Data struct {
	Type           fit.DataType
	Dose           []float64
	Resp           []float64
	Covariates     *mat.Dense
	CovariateNames []string
	S              mat.Matrix
	// DF of S for general data, +Inf if S is known.
	DF float64
}

// Options of MCPMod.
type Options struct {
	Fit      fit.Options
	Test     mct.Options
	Contrast contrast.Options
	// Workers bounds the number of concurrent fits, GOMAXPROCS if zero.
	Workers int
	Logger  *zap.Logger
}

// DefaultOptions returns the defaults of the fitting and test stages.
func DefaultOptions() Options {
	return Options{
		Fit:  fit.DefaultOptions(),
		Test: mct.DefaultOptions(),
	}
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Fitted is the fit of one candidate shape.
type Fitted struct {
	Name  string
	Model *fit.DRMod
	AIC   float64
}

// Result of MCPMod. Fits follow the order of the significant contrasts and
// Selected indexes Fits, -1 if no contrast is significant.
type Result struct {
	Estimates *mct.Estimates
	Contrasts *contrast.Matrix
	Test      *mct.Result
	Fits      []Fitted
	Selected  int
}

// Best returns the selected fit.
func (r *Result) Best() (Fitted, bool) {
	if r.Selected < 0 {
		return Fitted{}, false
	}
	return r.Fits[r.Selected], true
}

// MCPMod tests for a dose-response signal with optimal contrasts of the
// candidates and fits the significant candidates concurrently. Every
// candidate must name a model family; mean-only candidates are rejected.
// The call fails if any fit fails; a cancelled ctx stops fits that have not
// started.
func MCPMod(ctx context.Context, data Data, candidates []contrast.Candidate, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Fit.Logger == nil {
		opts.Fit.Logger = log
	}
	if opts.Test.Logger == nil {
		opts.Test.Logger = log
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, cand := range candidates {
		if !cand.Fittable() {
			return nil, dferr.New(dferr.ErrInvalidArgument, "mcpmod", "candidate %s is given by its mean vector only and has no model to fit", contrast.Names(candidates)[i])
		}
	}

	est, err := Estimate(data, opts.Fit)
	if err != nil {
		return nil, err
	}
	c, err := contrast.Optimal(est.Doses, candidates, est.S, opts.Contrast)
	if err != nil {
		return nil, err
	}
	test, err := mct.Test(est, c, opts.Test)
	if err != nil {
		return nil, err
	}
	res := &Result{Estimates: est, Contrasts: c, Test: test, Selected: -1}

	significant := test.Significant()
	log.Info("multiple contrast test",
		zap.Float64("p", test.PValue()),
		zap.Int("significant", len(significant)),
	)
	if len(significant) == 0 {
		return res, nil
	}

	res.Fits = make([]Fitted, len(significant))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())
	for k, i := range significant {
		cand, name := candidates[i], c.Names[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m, err := fit.Fit(data.request(cand, opts.Contrast.Constants), opts.Fit)
			if err != nil {
				return dferr.WithModel(err, name)
			}
			res.Fits[k] = Fitted{Name: name, Model: m, AIC: m.AIC()}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	best := math.Inf(1)
	for k, f := range res.Fits {
		if f.AIC < best {
			best, res.Selected = f.AIC, k
		}
	}
	if res.Selected >= 0 {
		log.Info("selected model", zap.String("model", res.Fits[res.Selected].Name), zap.Float64("aic", best))
	}
	return res, nil
}

// Estimate returns the dose level estimates of the data: ANOVA means for
// normal data, the given estimates for general data.
func Estimate(data Data, opts fit.Options) (*mct.Estimates, error) {
	switch data.Type {
	case fit.Normal:
		return mct.EstimateANOVA(data.Dose, data.Resp, data.Covariates, opts)
	case fit.General:
		if data.S == nil {
			return nil, dferr.New(dferr.ErrInvalidArgument, "estimates", "general data need a covariance matrix")
		}
		return mct.NewEstimates(data.Dose, data.Resp, data.S, data.DF)
	default:
		return nil, dferr.New(dferr.ErrInvalidArgument, "estimates", "unknown data type %v", data.Type)
	}
}

func (d Data) request(cand contrast.Candidate, constants model.Constants) fit.Request {
	return fit.Request{
		Family:         cand.Family,
		Type:           d.Type,
		Dose:           d.Dose,
		Resp:           d.Resp,
		Covariates:     d.Covariates,
		CovariateNames: d.CovariateNames,
		S:              d.S,
		DF:             d.DF,
		Constants:      constants,
	}
}

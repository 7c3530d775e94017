package main

import (
	"fmt"
	"math"

	"github.com/hammal/dosefinding"
	"github.com/hammal/dosefinding/contrast"
	"github.com/hammal/dosefinding/fit"
	"github.com/hammal/dosefinding/mct"
	"github.com/hammal/dosefinding/model"
	"github.com/hammal/dosefinding/simulate"
	"github.com/spf13/cobra"
)

type coefReport struct {
	Name     string  `yaml:"name"`
	Estimate float64 `yaml:"estimate"`
	SE       float64 `yaml:"se"`
}

type predictionReport struct {
	Dose float64 `yaml:"dose"`
	Mean float64 `yaml:"mean"`
	SE   float64 `yaml:"se"`
}

type fitReport struct {
	Name        string             `yaml:"name,omitempty"`
	Family      model.Family       `yaml:"family"`
	Type        fit.DataType       `yaml:"type"`
	Coef        []coefReport       `yaml:"coef"`
	RSS         float64            `yaml:"rss"`
	DF          float64            `yaml:"df"`
	AIC         float64            `yaml:"aic"`
	Predictions []predictionReport `yaml:"predictions,omitempty"`
}

type contrastReport struct {
	Name   string    `yaml:"name"`
	Coef   []float64 `yaml:"coef"`
	TStat  float64   `yaml:"t"`
	PValue float64   `yaml:"p"`
}

type testReport struct {
	Doses       []float64        `yaml:"doses"`
	Mean        []float64        `yaml:"mean"`
	DF          float64          `yaml:"df"`
	Alternative mct.Alternative  `yaml:"alternative"`
	Alpha       float64          `yaml:"alpha"`
	Contrasts   []contrastReport `yaml:"contrasts"`
	Corr        [][]float64      `yaml:"corr"`
	CritVal     float64          `yaml:"critVal"`
	MaxT        string           `yaml:"maxT"`
	PValue      float64          `yaml:"p"`
}

type powerReport struct {
	Contrasts []string  `yaml:"contrasts"`
	Power     []float64 `yaml:"power"`
}

// dataFile is the output of simulate, readable as a problem file.
type dataFile struct {
	Type           fit.DataType `yaml:"type"`
	Family         model.Family `yaml:"family"`
	Dose           []float64    `yaml:"dose"`
	Resp           []float64    `yaml:"resp"`
	Covariates     [][]float64  `yaml:"covariates,omitempty"`
	CovariateNames []string     `yaml:"covariateNames,omitempty"`
}

type mcpmodReport struct {
	Test     testReport  `yaml:"test"`
	Fits     []fitReport `yaml:"fits"`
	Selected string      `yaml:"selected,omitempty"`
}

func newFitReport(name string, m *fit.DRMod, predict []float64) (fitReport, error) {
	vcov, err := m.VCov()
	if err != nil {
		return fitReport{}, err
	}
	meta := m.Metadata()
	r := fitReport{
		Name:   name,
		Family: meta.Family,
		Type:   meta.Type,
		RSS:    m.RSS(),
		DF:     m.DF(),
		AIC:    m.AIC(),
	}
	names := m.CoefNames()
	for i, c := range m.Coef() {
		r.Coef = append(r.Coef, coefReport{Name: names[i], Estimate: c, SE: math.Sqrt(vcov.At(i, i))})
	}
	if len(predict) > 0 {
		pred, se, err := m.PredictSE(predict, fit.Response)
		if err != nil {
			return fitReport{}, err
		}
		for i, d := range predict {
			r.Predictions = append(r.Predictions, predictionReport{Dose: d, Mean: pred[i], SE: se[i]})
		}
	}
	return r, nil
}

func newTestReport(est *mct.Estimates, c *contrast.Matrix, res *mct.Result) testReport {
	r := testReport{
		Doses:       est.Doses,
		Mean:        est.Mean,
		DF:          res.DF,
		Alternative: res.Alternative,
		Alpha:       res.Alpha,
		Corr:        rowsOf(res.Corr),
		CritVal:     res.CritVal,
		PValue:      res.PValue(),
	}
	for j, name := range res.Names {
		r.Contrasts = append(r.Contrasts, contrastReport{
			Name:   name,
			Coef:   contrastColumn(c, j),
			TStat:  res.TStat[j],
			PValue: res.PValues[j],
		})
	}
	i, _ := res.MaxT()
	r.MaxT = res.Names[i]
	return r
}

func contrastColumn(c *contrast.Matrix, j int) []float64 {
	r, _ := c.C.Dims()
	col := make([]float64, r)
	for i := range col {
		col[i] = c.C.At(i, j)
	}
	return col
}

func (a *app) fitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fit FILE",
		Short: "Fit one dose-response model",
		Long: `Fit the model family of the problem file to normal (per patient) or
general (estimates with covariance s) data and print the coefficients with
standard errors, RSS, AIC and predictions at the doses listed in predict.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := readProblem(cmd, args[0])
			if err != nil {
				return err
			}
			req, err := p.request(a.cfg.Fit.Constants)
			if err != nil {
				return err
			}
			m, err := fit.Fit(req, a.cfg.FitOptions(a.log))
			if err != nil {
				return err
			}
			r, err := newFitReport("", m, p.Predict)
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), r)
		},
	}
}

func (a *app) testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test FILE",
		Short: "Run a multiple contrast test",
		Long: `Estimate the dose means of the data, build the optimal contrasts of the
candidates and print the contrast statistics with multiplicity adjusted
p-values and the critical value.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := readProblem(cmd, args[0])
			if err != nil {
				return err
			}
			data, err := p.data()
			if err != nil {
				return err
			}
			est, err := dosefinding.Estimate(data, a.cfg.FitOptions(a.log))
			if err != nil {
				return err
			}
			copts := a.cfg.ContrastOptions()
			copts.Constants = p.constants(copts.Constants)
			c, err := contrast.Optimal(est.Doses, p.Candidates, est.S, copts)
			if err != nil {
				return err
			}
			topts, err := a.cfg.TestOptions(a.log)
			if err != nil {
				return err
			}
			res, err := mct.Test(est, c, topts)
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), newTestReport(est, c, res))
		},
	}
}

func (a *app) powerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "power FILE",
		Short: "Power of a multiple contrast test",
		Long: `Compute the probability that the multiple contrast test of the candidates
rejects, for dose estimates at dose with covariance s and df, under each of
the true mean vectors in means.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := readProblem(cmd, args[0])
			if err != nil {
				return err
			}
			s, err := dense("s", p.S)
			if err != nil {
				return err
			}
			if s == nil {
				return fmt.Errorf("power needs the covariance s of the dose estimates")
			}
			copts := a.cfg.ContrastOptions()
			copts.Constants = p.constants(copts.Constants)
			c, err := contrast.Optimal(p.Dose, p.Candidates, s, copts)
			if err != nil {
				return err
			}
			topts, err := a.cfg.TestOptions(a.log)
			if err != nil {
				return err
			}
			power, err := mct.Power(c, s, p.DF, p.Means, topts)
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), powerReport{Contrasts: c.Names, Power: power})
		},
	}
}

func (a *app) simulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate FILE",
		Short: "Simulate per-patient data from a curve",
		Long: `Draw responses curve(dose) + N(0, sd^2) for the patients of design, with
an optional standard normal covariate of effect design.covariateEffect.
The output is a valid normal-data problem file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := readProblem(cmd, args[0])
			if err != nil {
				return err
			}
			sim, err := simulate.New(p.curve(a.cfg.Fit.Constants), p.SD, p.Seed)
			if err != nil {
				return err
			}
			data, err := sim.Generate(p.Design)
			if err != nil {
				return err
			}
			out := dataFile{Type: fit.Normal, Family: p.Curve.Family, Dose: data.Dose, Resp: data.Resp}
			if data.Covariate != nil {
				out.CovariateNames = []string{"x"}
				for _, x := range data.Covariate {
					out.Covariates = append(out.Covariates, []float64{x})
				}
			}
			return writeYAML(cmd.OutOrStdout(), out)
		},
	}
}

func (a *app) mcpmodCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcpmod FILE",
		Short: "Test for a dose-response signal and fit the significant candidates",
		Long: `Run the multiple contrast test of the candidates, fit every candidate with
a significant contrast and select the fit with the smallest AIC.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := readProblem(cmd, args[0])
			if err != nil {
				return err
			}
			data, err := p.data()
			if err != nil {
				return err
			}
			opts, err := a.cfg.MCPModOptions(a.log)
			if err != nil {
				return err
			}
			opts.Contrast.Constants = p.constants(opts.Contrast.Constants)
			res, err := dosefinding.MCPMod(cmd.Context(), data, p.Candidates, opts)
			if err != nil {
				return err
			}
			r := mcpmodReport{Test: newTestReport(res.Estimates, res.Contrasts, res.Test)}
			for _, f := range res.Fits {
				fr, err := newFitReport(f.Name, f.Model, p.Predict)
				if err != nil {
					return err
				}
				r.Fits = append(r.Fits, fr)
			}
			if best, ok := res.Best(); ok {
				r.Selected = best.Name
			}
			return writeYAML(cmd.OutOrStdout(), r)
		},
	}
}

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/hammal/dosefinding"
	"github.com/hammal/dosefinding/contrast"
	"github.com/hammal/dosefinding/fit"
	"github.com/hammal/dosefinding/model"
	"github.com/hammal/dosefinding/simulate"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// problem is the input file of all commands. Each command reads the fields
// it needs.
type problem struct {
	Family          model.Family         `yaml:"family"`
	Type            fit.DataType         `yaml:"type"`
	Dose            []float64            `yaml:"dose"`
	Resp            []float64            `yaml:"resp"`
	Covariates      [][]float64          `yaml:"covariates"`
	CovariateNames  []string             `yaml:"covariateNames"`
	S               [][]float64          `yaml:"s"`
	DF              float64              `yaml:"df"`
	PlaceboAdjusted bool                 `yaml:"placeboAdjusted"`
	Bounds          [][2]float64         `yaml:"bounds"`
	Start           []float64            `yaml:"start"`
	Constants       model.Constants      `yaml:"constants"`
	Predict         []float64            `yaml:"predict"`
	Candidates      []contrast.Candidate `yaml:"candidates"`
	Means           [][]float64          `yaml:"means"`
	Curve           curveFile            `yaml:"curve"`
	Design          simulate.Design      `yaml:"design"`
	SD              float64              `yaml:"sd"`
	Seed            uint64               `yaml:"seed"`
}

type curveFile struct {
	Family          model.Family `yaml:"family"`
	Coef            []float64    `yaml:"coef"`
	Nodes           []float64    `yaml:"nodes"`
	PlaceboAdjusted bool         `yaml:"placeboAdjusted"`
}

// readProblem decodes the problem file at path, stdin for "-". Unknown
// fields are errors.
func readProblem(cmd *cobra.Command, path string) (*problem, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open problem file: %w", err)
		}
		defer f.Close()
		r = f
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var p problem
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode problem file %s: %w", path, err)
	}
	return &p, nil
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// constants returns the problem's constants, falling back to fallback for
// zero fields.
func (p *problem) constants(fallback model.Constants) model.Constants {
	c := p.Constants
	if c.Off == 0 {
		c.Off = fallback.Off
	}
	if c.Scal == 0 {
		c.Scal = fallback.Scal
	}
	return c
}

func (p *problem) request(constants model.Constants) (fit.Request, error) {
	covs, err := dense("covariates", p.Covariates)
	if err != nil {
		return fit.Request{}, err
	}
	s, err := dense("s", p.S)
	if err != nil {
		return fit.Request{}, err
	}
	req := fit.Request{
		Family:          p.Family,
		Type:            p.Type,
		Dose:            p.Dose,
		Resp:            p.Resp,
		Covariates:      covs,
		CovariateNames:  p.CovariateNames,
		DF:              p.DF,
		PlaceboAdjusted: p.PlaceboAdjusted,
		Bounds:          model.Bounds(p.Bounds),
		Start:           p.Start,
		Constants:       p.constants(constants),
	}
	if s != nil {
		req.S = s
	}
	return req, nil
}

func (p *problem) data() (dosefinding.Data, error) {
	covs, err := dense("covariates", p.Covariates)
	if err != nil {
		return dosefinding.Data{}, err
	}
	s, err := dense("s", p.S)
	if err != nil {
		return dosefinding.Data{}, err
	}
	data := dosefinding.Data{
		Type:           p.Type,
		Dose:           p.Dose,
		Resp:           p.Resp,
		Covariates:     covs,
		CovariateNames: p.CovariateNames,
		DF:             p.DF,
	}
	if s != nil {
		data.S = s
	}
	return data, nil
}

func (p *problem) curve(constants model.Constants) model.Curve {
	return model.Curve{
		Family:          p.Curve.Family,
		Coef:            p.Curve.Coef,
		Nodes:           p.Curve.Nodes,
		PlaceboAdjusted: p.Curve.PlaceboAdjusted,
		Constants:       p.constants(constants),
	}
}

// dense converts rows to a matrix, nil for no rows.
func dense(name string, rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	c := len(rows[0])
	if c == 0 {
		return nil, fmt.Errorf("%s has an empty first row", name)
	}
	m := mat.NewDense(len(rows), c, nil)
	for i, row := range rows {
		if len(row) != c {
			return nil, fmt.Errorf("%s row %d has %d columns, want %d", name, i, len(row), c)
		}
		m.SetRow(i, row)
	}
	return m, nil
}

func rowsOf(m mat.Matrix) [][]float64 {
	r, c := m.Dims()
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = make([]float64, c)
		for j := range rows[i] {
			rows[i][j] = m.At(i, j)
		}
	}
	return rows
}

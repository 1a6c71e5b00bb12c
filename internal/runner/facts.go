package runner

import (
	"context"
	"fmt"

	"github.com/robert-at-pretension-io/hdlsim/internal/extractor"
	"github.com/robert-at-pretension-io/hdlsim/internal/facts"
	"github.com/robert-at-pretension-io/hdlsim/internal/sim"
	"github.com/robert-at-pretension-io/hdlsim/internal/validator"
)

// Facts extracts the fact tables of a program. A program that passes
// validation is also simulated, which fills in unresolved references and
// suppressed assignments; a rejected one yields extraction facts only,
// together with its diagnostics.
func (r *Runner) Facts(ctx context.Context, prog Program) (facts.Tables, []validator.Diagnostic, error) {
	if err := ctx.Err(); err != nil {
		return facts.Tables{}, nil, fmt.Errorf("facts not started: %w", err)
	}

	text := prog.Text()
	diags := validator.Validate(text)
	extracted := extractor.Extract(text)

	var run *sim.Run
	if len(diags) == 0 {
		simCfg, err := r.simConfig()
		if err != nil {
			return facts.Tables{}, nil, err
		}
		run = sim.New(simCfg).Run(extracted)
	}

	tables := facts.BuildTables(extracted, run)
	v, err := r.validators.Get()
	if err != nil {
		return facts.Tables{}, nil, fmt.Errorf("init facts validator: %w", err)
	}
	defer r.validators.Put(v)
	if err := v.ValidateTables(tables); err != nil {
		return facts.Tables{}, nil, fmt.Errorf("facts contract: %w", err)
	}
	return tables, diags, nil
}

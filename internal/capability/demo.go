package capability

import (
	"context"
	"path"
	"strings"

	"github.com/qiita/qiita-ware/internal/util"
)

const (
	DataType16S           = "16S"
	DataType18S           = "18S"
	DataTypeMetabolites   = "Metabolites"
	DataTypeMetagenomes   = "Metagenomes"
	DataTypeMetaproteomes = "Metaproteomes"

	FunctionAlphaDiversity = "Alpha_Diversity"
	FunctionBetaDiversity  = "Beta_Diversity"
	FunctionProcrustes     = "Procrustes"
)

type AlphaDiversityOptions struct {
	Metrics  []string `json:"metrics" validate:"required,min=1,dive,alpha_metric"`
	NumSteps int      `json:"num_steps" validate:"gte=1,lte=100"`
}

type BetaDiversityOptions struct {
	Metrics []string `json:"metrics" validate:"required,min=1,dive,beta_metric"`
	Depth   int      `json:"depth" validate:"gte=0"`
}

type ProcrustesOptions struct {
	NumPermutations int `json:"num_permutations" validate:"gte=0"`
}

// NewDefaultRegistry registers the reference data types and functions. The
// functions return demo artifacts under resultsDir.
func NewDefaultRegistry(resultsDir string) *Registry {
	r := NewRegistry()
	for _, dt := range []string{DataType16S, DataType18S, DataTypeMetabolites, DataTypeMetagenomes, DataTypeMetaproteomes} {
		util.Must(r.RegisterDataType(dt))
	}

	demo := path.Join(resultsDir, "demo")
	util.Must(r.RegisterFunction(Function{
		Name: FunctionAlphaDiversity,
		NewOptions: func() any {
			return &AlphaDiversityOptions{Metrics: []string{"chao1", "PD_whole_tree"}, NumSteps: 10}
		},
		Run: func(ctx context.Context, req Request) ([]string, error) {
			return []string{
				path.Join(demo, "alpha", strings.ToLower(req.DataType), "alpha_rarefaction_plots", "rarefaction_plots.html"),
			}, ctx.Err()
		},
	}))
	util.Must(r.RegisterFunction(Function{
		Name: FunctionBetaDiversity,
		NewOptions: func() any {
			return &BetaDiversityOptions{Metrics: []string{"unweighted_unifrac", "weighted_unifrac"}}
		},
		Run: func(ctx context.Context, req Request) ([]string, error) {
			if req.DataType == DataType16S {
				return []string{
					path.Join(demo, "beta", "emperor", "unweighted_unifrac_16s", "index.html"),
					path.Join(demo, "beta", "emperor", "weighted_unifrac_16s", "index.html"),
				}, ctx.Err()
			}
			return []string{
				path.Join(demo, "beta", "emperor", strings.ToLower(req.DataType), "index.html"),
			}, ctx.Err()
		},
	}))
	util.Must(r.RegisterFunction(Function{
		Name: FunctionProcrustes,
		NewOptions: func() any {
			return &ProcrustesOptions{NumPermutations: 1000}
		},
		Run: func(ctx context.Context, req Request) ([]string, error) {
			return []string{path.Join(demo, "combined", "plots", "index.html")}, ctx.Err()
		},
	}))

	return r
}

package entity

import "fmt"

// Species carries the dataset release versions that parameterize jobs. The
// latest release feeds mapping and heritability jobs; the structural variant
// and pairwise indel releases feed indel primer jobs.
type Species struct {
	Name          string
	ReleaseLatest string
	ReleaseSVA    string
	ReleasePIF    string
	// Indel primer source file templates, expanded with RELEASE/STRAIN
	// tokens at parse time.
	SVBedTemplate string
	SVVCFTemplate string
}

// defaultSpecies mirrors the dataset releases currently published for each
// supported species.
var defaultSpecies = map[string]Species{
	"c_elegans": {
		Name:          "c_elegans",
		ReleaseLatest: "20231213",
		ReleaseSVA:    "20220216",
		ReleasePIF:    "20220216",
		SVBedTemplate: "c_elegans/WI/divergent_regions/${RELEASE}/divergent_regions_strain.bed.gz",
		SVVCFTemplate: "c_elegans/WI/variation/${RELEASE}/vcf/WI.${RELEASE}.hard-filter.isotype.vcf.gz",
	},
	"c_briggsae": {
		Name:          "c_briggsae",
		ReleaseLatest: "20240129",
		ReleaseSVA:    "20240129",
		ReleasePIF:    "20240129",
		SVBedTemplate: "c_briggsae/WI/divergent_regions/${RELEASE}/divergent_regions_strain.bed.gz",
		SVVCFTemplate: "c_briggsae/WI/variation/${RELEASE}/vcf/WI.${RELEASE}.hard-filter.isotype.vcf.gz",
	},
	"c_tropicalis": {
		Name:          "c_tropicalis",
		ReleaseLatest: "20231201",
		ReleaseSVA:    "20231201",
		ReleasePIF:    "20231201",
		SVBedTemplate: "c_tropicalis/WI/divergent_regions/${RELEASE}/divergent_regions_strain.bed.gz",
		SVVCFTemplate: "c_tropicalis/WI/variation/${RELEASE}/vcf/WI.${RELEASE}.hard-filter.isotype.vcf.gz",
	},
}

// SpeciesRegistry answers species lookups for parsers and environment
// builders.
type SpeciesRegistry struct {
	byName map[string]Species
}

func NewSpeciesRegistry() *SpeciesRegistry {
	byName := make(map[string]Species, len(defaultSpecies))
	for k, v := range defaultSpecies {
		byName[k] = v
	}
	return &SpeciesRegistry{byName: byName}
}

func (r *SpeciesRegistry) Get(name string) (Species, error) {
	s, ok := r.byName[name]
	if !ok {
		return Species{}, fmt.Errorf("unknown species %q", name)
	}
	return s, nil
}

func (r *SpeciesRegistry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}

func (r *SpeciesRegistry) Register(s Species) {
	r.byName[s.Name] = s
}

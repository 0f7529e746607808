// Package composer builds the per-pose natural-language instruction sent to
// image providers. Everything here is pure: same inputs, byte-identical
// output.
package composer

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"tryon/internal/domain"
)

var frTitle = cases.Title(language.French)

// NormalizeOptions lowercases the option fields and fills defaults so the
// segment selectors see canonical values.
func NormalizeOptions(opts domain.Options) domain.Options {
	norm := func(v, def string) string {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			return def
		}
		return v
	}
	return domain.Options{
		Gender:     norm(opts.Gender, "femme"),
		Size:       norm(opts.Size, "m"),
		Style:      norm(opts.Style, "professionnel"),
		Background: norm(opts.Background, "studio"),
		Product:    strings.TrimSpace(opts.Product),
	}
}

// Compose builds the instruction for one pose. In one-image mode the full
// segment chain is emitted (background, style, marketplace and technical
// clauses). In two-image mode the provided background is bound explicitly and
// the marketplace/technical clauses are dropped, which measurably lowers
// provider safety rejections.
func Compose(opts domain.Options, pose domain.Pose, mode domain.Mode) string {
	o := NormalizeOptions(opts)
	if mode == domain.ModeTwoImage {
		return join(
			segmentBackgroundBinding(),
			openingSentence(o),
			segmentSize(o.Size),
			segmentPose(pose),
			segmentStyleLight(o.Style),
		)
	}
	return join(
		openingSentence(o),
		segmentSize(o.Size),
		segmentPose(pose),
		segmentBackground(o.Background),
		segmentStyle(o.Style, o.Background),
		segmentVinted(),
		segmentPhotoTech(),
	)
}

// ComposePersona builds the instruction when both a background and a persona
// reference image are bound alongside the garment photo.
func ComposePersona(opts domain.Options, pose domain.Pose) string {
	o := NormalizeOptions(opts)
	return join(
		segmentPersonaBinding(),
		"Génère une image photoréaliste de cette personne portant ce vêtement.",
		referenceSentence(o.Product),
		segmentSize(o.Size),
		segmentPose(pose),
		segmentCompositing(),
		segmentStyleLight(o.Style),
	)
}

func openingSentence(o domain.Options) string {
	s := "Utilise la photo fournie et génère une image photoréaliste d'un " +
		segmentGender(o.Gender) + " portant ce vêtement."
	if ref := referenceSentence(o.Product); ref != "" {
		s += " " + ref
	}
	return s
}

// referenceSentence names the garment when the job carries a product label.
func referenceSentence(product string) string {
	if product == "" {
		return ""
	}
	return "Référence produit: " + frTitle.String(product) + "."
}

func join(segments ...string) string {
	parts := segments[:0]
	for _, s := range segments {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

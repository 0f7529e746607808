package composer

import (
	"strings"

	"tryon/internal/domain"
)

func segmentGender(gender string) string {
	if strings.ToLower(gender) == "homme" {
		return "mannequin homme réaliste"
	}
	return "mannequin femme réaliste"
}

func corpulenceFromSize(size string) string {
	switch strings.ToLower(size) {
	case "xxs":
		return "gabarit très fin/petit, carrure étroite"
	case "xs":
		return "gabarit fin/petit, carrure étroite"
	case "s":
		return "silhouette plutôt mince, carrure légère"
	case "m":
		return "silhouette moyenne/standard, carrure normale"
	case "l":
		return "silhouette plus large, carrure marquée"
	case "xl":
		return "silhouette forte, carrure large"
	case "xxl":
		return "silhouette très forte, grande carrure"
	default:
		return "silhouette moyenne/standard, carrure normale"
	}
}

func segmentSize(size string) string {
	return "Taille du vêtement: " + strings.ToUpper(size) +
		", ajustement réaliste (ni trop serré ni flottant), plis naturels du tissu. Corpulence: " +
		corpulenceFromSize(size) + "."
}

func segmentPose(pose domain.Pose) string {
	switch pose {
	case domain.PoseThreeQuarter:
		return "Pose: debout à 45° (trois-quarts), buste légèrement tourné; attitude naturelle."
	case domain.PoseProfile:
		return "Pose: vu de profil, silhouette latérale bien détachée; attitude naturelle."
	default:
		return "Pose: debout face à l'appareil, posture droite, regard vers l'objectif; attitude naturelle."
	}
}

func segmentBackground(background string) string {
	switch strings.ToLower(background) {
	case "chambre":
		return "Environnement: chambre lumineuse rangée (lit/armoire discrets), tons clairs; arrière-plan présent mais discret."
	case "salon":
		return "Environnement: salon convivial (canapé/déco discrets); arrière-plan sobre et légèrement flou."
	case "extérieur":
		return "Environnement: extérieur urbain ou parc; arrière-plan doux et flou pour garder le focus sur le vêtement."
	default:
		return "Environnement: studio sur fond uni blanc/gris clair; décor minimal pour valoriser le vêtement."
	}
}

func segmentStyle(style, background string) string {
	b := strings.ToLower(background)
	if strings.ToLower(style) == "amateur" {
		switch b {
		case "chambre":
			return "Style: cliché smartphone authentique comme posté sur Vinted. Éclairage: lumière naturelle d'une fenêtre, exposition équilibrée, couleurs neutres."
		case "salon":
			return "Style: cliché smartphone authentique. Éclairage: lumière de fin d'après-midi, tonalité chaude légère, décor discret."
		case "extérieur":
			return "Style: cliché smartphone authentique. Éclairage: plein jour, soleil latéral doux, ombres portées crédibles, arrière-plan légèrement flou."
		default:
			return "Style: cliché amateur simple sur fond uni, lumière diffuse uniforme, exposition correcte."
		}
	}
	switch b {
	case "chambre":
		return "Style: prise de vue professionnelle, netteté propre. Éclairage: diffus soigné (fenêtre + appoint doux), ombres contrôlées."
	case "salon":
		return "Style: prise de vue professionnelle. Éclairage: diffusion homogène, reflets doux sur le tissu, ombres propres."
	case "extérieur":
		return "Style: prise de vue pro en extérieur. Éclairage: lumière naturelle adoucie (nuages légers), ombres au sol douces."
	default:
		return "Style: prise de vue professionnelle e-commerce. Éclairage: softbox frontal + latéral, fond uni blanc/gris clair, ombres très douces."
	}
}

// segmentStyleLight is the compact style sentence used when a real background
// photograph is bound; the full per-background lighting text would fight the
// provided scene.
func segmentStyleLight(style string) string {
	if strings.ToLower(style) == "amateur" {
		return "Style: prise de vue amateur smartphone (lumière naturelle, rendu spontané)."
	}
	return "Style: prise de vue professionnelle (netteté propre, éclairage maîtrisé)."
}

func segmentVinted() string {
	return "Conforme au marché Vinted: rendu sobre et vendeur, sans logos ni texte ajouté, sans watermark, ni éléments parasites; " +
		"une seule personne, pas d'accessoires non inclus."
}

func segmentPhotoTech() string {
	return "Cadrage: ratio 4:5, orientation portrait; vêtement bien centré. " +
		"Qualité: image nette, haute définition, balance des blancs neutre, contraste modéré. " +
		"Fidélité: couleurs/matières/motifs/coutures préservés; perspective et proportions crédibles; mains/visage corrects. " +
		"Plan: en pied si possible, sinon plan américain selon l'article. " +
		"Accent: texture du tissu et détails (motifs, boutons, coutures) bien visibles."
}

func segmentBackgroundBinding() string {
	return "La première image fournie est l'environnement: préserve-le tel quel (décor, perspective, lumière, couleurs), sans le redessiner ni le remplacer. " +
		"La dernière image est le vêtement à porter."
}

func segmentPersonaBinding() string {
	return "La première image fournie est l'environnement: préserve-le tel quel. " +
		"La deuxième image est la personne de référence: conserve son visage, sa morphologie et sa coiffure. " +
		"La dernière image est le vêtement à porter."
}

func segmentCompositing() string {
	return "Compositing photoréaliste: drapé du tissu épousant la morphologie, occlusions correctes (bras, cheveux, sangles), " +
		"ombres et lumière cohérentes avec l'environnement, contact au sol crédible."
}

package generation

import "fmt"

// BuildPrompt is the instruction sent with the selfie.
func BuildPrompt(idolName, teamName string) string {
	return fmt.Sprintf(`A hyper-realistic photo of this fan meeting the football legend %s, who is wearing a %s kit.
  The fan and the idol are standing side-by-side in a friendly pose, potentially with an arm around the shoulder or a shared thumbs-up, capturing an authentic moment of connection.
  The expressions should be joyful and natural, as if they are celebrating a victory together.
  The background is a professional football stadium with atmospheric floodlights, slightly blurred to keep focus on the subjects.
  The image quality must be 8k resolution, cinematic lighting, sharp focus, with high-end photography aesthetics.`, idolName, teamName)
}

// LogPrompt is the short description stored with the generated image record.
func LogPrompt(idolName, teamName string) string {
	return fmt.Sprintf("Fan photo with %s from %s", idolName, teamName)
}

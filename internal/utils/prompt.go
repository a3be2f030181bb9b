package utils

import (
	"fmt"
	"strings"
)

// InputSizes are the supported approximate prompt sizes in tokens
var InputSizes = []int{10, 100, 1000, 10000, 100000}

const shortPrompt = "Tell me a story."

const mediumPrompt = "Write a story about a lighthouse keeper on a remote northern island " +
	"who finds a sealed bottle washed up on the rocks after a winter storm. The note inside " +
	"is written in a language nobody in the nearby fishing village can read, and the keeper " +
	"decides to travel to the mainland to find out what it says. Describe the journey, the " +
	"people met along the way, and how the message changes the keeper's understanding of " +
	"the island and its history. "

var longPromptParagraphs = []string{
	"Write a long and detailed story set in a river town at the edge of a vast pine forest. " +
		"The town was founded generations ago by timber cutters and boat builders, and its " +
		"streets still follow the bends of the river rather than any planned grid. In spring the " +
		"water rises and floods the lower market, so the merchants keep their stalls on wheels " +
		"and move uphill every April. The oldest building is a stone mill whose wheel stopped " +
		"turning decades ago, and children dare each other to climb through its broken windows. ",
	"The main character is a young cartographer who returns to the town after many years " +
		"away at a university in the capital. She has been hired by the regional council to " +
		"produce an accurate map of the forest, which has never been properly surveyed. The " +
		"local guides are polite but reluctant, and several of them insist that certain valleys " +
		"should be left off any map entirely. Her childhood friend now runs the ferry across the " +
		"river and becomes her first real source of information about what has changed. ",
	"As the survey progresses she notices that the old hand-drawn maps in the town archive " +
		"disagree with each other in strange ways. Streams appear and vanish between editions, " +
		"a hill is marked on one sheet and a lake on another, and one map from a century ago " +
		"shows a second village deep in the forest that no living resident admits to knowing. " +
		"Her instruments work perfectly near the town but begin to drift as she walks further " +
		"east, and her compass needle turns slowly even when she stands perfectly still. ",
	"Include the point of view of the ferry operator, who has his own reasons for wanting " +
		"the forest to remain uncharted. His family once owned land in the eastern valleys and " +
		"lost it in a dispute that the town prefers to forget. Show how the friendship between " +
		"the two characters is tested when the council begins to talk about selling logging " +
		"rights once the map is complete, and how the town splits into those who want the money " +
		"and those who fear what the loggers might disturb. ",
	"Describe the forest in every season the survey lasts. Write about the silence after " +
		"heavy snow, the smell of resin in the summer heat, the autumn fog that settles in the " +
		"valleys for days, and the sound of ice breaking on the river in early spring. Give the " +
		"reader a sense of how small a person feels walking for hours under trees that were " +
		"already old when the town was founded, and how easy it is to lose track of time. ",
	"Build toward a climax in which the cartographer finally reaches the place where the " +
		"missing village should stand. Decide for yourself what she finds there, whether it is " +
		"ruins, a living community that chose to disappear, or something that cannot be easily " +
		"explained. Then write the consequences for the town, the council, the ferry operator " +
		"and the map itself. End the story with the final version of the map and a description " +
		"of what the cartographer chose to include and what she chose to leave blank. ",
	"Use rich dialogue, vivid sensory detail and a slow, deliberate pace. Give minor " +
		"characters such as the archivist, the mill owner's grandson, the council clerk and the " +
		"guides their own voices and motivations. Do not summarize events when they can be " +
		"shown in full scenes, and let the reader discover the history of the town gradually " +
		"through conversations, documents and the landscape itself rather than through long " +
		"explanations at the beginning. ",
}

// PromptForSize returns a prompt of roughly the given number of tokens
func PromptForSize(size int) (string, error) {
	long := strings.Join(longPromptParagraphs, "")

	switch size {
	case 10:
		return shortPrompt, nil
	case 100:
		return mediumPrompt, nil
	case 1000:
		return long, nil
	case 10000:
		return strings.Repeat(long, 5) + strings.Repeat(mediumPrompt, 50), nil
	case 100000:
		return strings.Repeat(long, 100), nil
	default:
		return "", fmt.Errorf("unsupported input size %d, expected one of %v", size, InputSizes)
	}
}

// IsValidInputSize reports whether size is one of InputSizes
func IsValidInputSize(size int) bool {
	for _, s := range InputSizes {
		if s == size {
			return true
		}
	}
	return false
}

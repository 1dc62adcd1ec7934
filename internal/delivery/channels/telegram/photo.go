package telegram

import tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

// bestPhoto picks the largest variant by pixel area, then file size. Later
// entries win ties since the platform lists sizes in ascending order.
func bestPhoto(sizes []tgbotapi.PhotoSize) (tgbotapi.PhotoSize, bool) {
	best := -1
	for i, size := range sizes {
		if size.FileID == "" {
			continue
		}
		if best < 0 || !smallerPhoto(size, sizes[best]) {
			best = i
		}
	}
	if best < 0 {
		return tgbotapi.PhotoSize{}, false
	}
	return sizes[best], true
}

func smallerPhoto(a, b tgbotapi.PhotoSize) bool {
	areaA := int64(a.Width) * int64(a.Height)
	areaB := int64(b.Width) * int64(b.Height)
	if areaA != areaB {
		return areaA < areaB
	}
	return a.FileSize < b.FileSize
}

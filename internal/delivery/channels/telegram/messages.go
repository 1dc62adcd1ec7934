package telegram

// User-facing replies. They never carry error detail.
const (
	processingPhotoText = "⏳ Processing photo..."
	processingAlbumText = "⏳ Processing album..."

	photoLinkText = "✅ Your photo is available at:\n%s"
	albumLinkText = "✅ Your photo from the album is available at:\n%s"

	photoFailedText = "❌ Something went wrong while processing the photo"
	albumFailedText = "❌ Something went wrong while processing the album"

	missingPhotoText      = "❌ Could not get the photo"
	missingAlbumPhotoText = "❌ Could not get the photo from the album"

	textReplyText = "📸 Send me a photo to get a link"

	startText = "🤖 Photo link bot\n\n" +
		"Send me a photo or an album of photos and I will reply with a telegra.app link\n\n" +
		"📸 Supported:\n" +
		"• Single photos\n" +
		"• Albums with several photos"
)

// pipelineTexts selects the wording for single photos or album members.
type pipelineTexts struct {
	processing string
	link       string
	failed     string
	missing    string
}

var (
	photoTexts = pipelineTexts{
		processing: processingPhotoText,
		link:       photoLinkText,
		failed:     photoFailedText,
		missing:    missingPhotoText,
	}
	albumTexts = pipelineTexts{
		processing: processingAlbumText,
		link:       albumLinkText,
		failed:     albumFailedText,
		missing:    missingAlbumPhotoText,
	}
)

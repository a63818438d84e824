package cel

// ExpressionExamples are sample rule expressions accepted by the evaluator.
var ExpressionExamples = map[string]string{
	"contains":      `text.contains("wire transfer")`,
	"starts_with":   `text.startsWith("urgent")`,
	"regex":         `text.matches("\\b\\d{4}[ -]?\\d{4}[ -]?\\d{4}[ -]?\\d{4}\\b")`,
	"combined":      `text.contains("pix") && text.contains("chave")`,
	"image_only":    `kind == "image" && source == "ocr" && text.contains("qr code")`,
	"specific_chat": `chat_id == "-1001234567890" && text.contains("gift card")`,
	"raw_case":      `raw.contains("CEO")`,
	"length":        `size(text) > 20 && text.contains("http")`,
	"in_list":       `text.split(" ").exists(w, w in ["bitcoin", "usdt", "ethereum"])`,
	"lower_ascii":   `raw.lowerAscii().contains("password")`,
}

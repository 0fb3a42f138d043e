package i18n

import "strings"

var translations = map[string]string{
	"invalid request":                      "درخواست نامعتبر است",
	"missing authorization token":          "توکن احراز هویت ارسال نشده است",
	"invalid token":                        "توکن نامعتبر است",
	"unauthorized":                         "دسترسی غیرمجاز",
	"conversation not found":               "مکالمه یافت نشد",
	"message not found":                    "پیام یافت نشد",
	"not a participant":                    "شما عضو این مکالمه نیستید",
	"can only delete own messages":         "فقط پیام های خودتان قابل حذف است",
	"failed to fetch messages":             "خطا در دریافت پیام ها",
	"failed to fetch conversations":        "خطا در دریافت مکالمه ها",
	"failed to create conversation":        "خطا در ایجاد مکالمه",
	"failed to create message":             "خطا در ایجاد پیام",
	"failed to update message":             "خطا در به روزرسانی پیام",
	"failed to delete message":             "خطا در حذف پیام",
	"failed to mark conversation read":     "خطا در علامت گذاری مکالمه",
	"invalid conversation id":              "شناسه مکالمه نامعتبر است",
	"invalid message id":                   "شناسه پیام نامعتبر است",
	"invalid participant_id":               "participant_id نامعتبر است",
	"participant not found":                "کاربر مقابل یافت نشد",
	"cannot create conversation with yourself": "نمی توانید با خودتان مکالمه ایجاد کنید",
	"file is required":                     "فایل الزامی است",
	"file too large":                       "حجم فایل بیش از حد مجاز است",
	"failed to save file":                  "خطا در ذخیره فایل",
	"failed to save subscription":          "خطا در ثبت اشتراک اعلان",
	"websocket upgrade failed":             "خطا در برقراری اتصال وب سوکت",
	"rate limiter error":                   "خطا در محدودسازی درخواست ها",
	"rate limit exceeded":                  "تعداد درخواست ها بیش از حد مجاز است",
	"internal server error":                "خطای داخلی سرور",
	"not found":                            "یافت نشد",

	// Rendered inside conversation summaries and message lists
	"this message was deleted": "این پیام حذف شده است",
	"no messages yet":          "هنوز پیامی ارسال نشده است",
	"photo":                    "تصویر",
	"video":                    "ویدیو",
	"file":                     "فایل",
	"you":                      "شما",
}

var prefixTranslations = map[string]string{
	"failed to parse token:":     "توکن نامعتبر است",
	"unexpected signing method:": "روش امضای توکن نامعتبر است",
}

func Translate(message string) string {
	if translated, ok := translations[message]; ok {
		return translated
	}
	for prefix, translated := range prefixTranslations {
		if strings.HasPrefix(message, prefix) {
			return translated
		}
	}
	return message
}

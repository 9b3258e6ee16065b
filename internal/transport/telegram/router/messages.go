package router

const (
	msgWelcome = "👋 <b>Welcome to the signal relay!</b>\n\n" +
		"⚙️ <b>Features:</b>\n" +
		"- 🔐 Secure login with your own account\n" +
		"- 🔍 Listens to your groups and channels for contract addresses\n" +
		"- 💼 24/7 forwarding to a destination of your choice\n" +
		"- ⏳ Optional copy to your trading bot for auto-buys\n\n" +
		"Use /help to see all available commands."

	msgUnknownCommand = "Unknown command. Try /help"
	msgBusy           = "busy, try again"
	msgInternalError  = "❌ Something went wrong. Please try again later."
	msgOwnerOnly      = "⛔ This command is restricted to the bot owner."
	msgNotLoggedIn    = "⚠️ You are not logged in. Use /login first."

	msgAlreadyLoggedIn = "✅ You are already logged in. Use /logout to log out."
	msgLoginInFlight   = "⏳ A login is already in progress. Continue it or use /cancel."
	msgAskPhone        = "📱 Please send your phone number in international format (e.g. <code>+123456789</code>).\nSend /cancel to abort."
	msgInvalidPhone    = "❌ Invalid phone number. Please use the format <code>+123456789</code>."
	msgCodeSent        = "🔑 A login code has been sent to your Telegram app. Send it here.\nTip: add spaces between digits (<code>1 2 3 4 5</code>) so Telegram does not expire it."
	msgInvalidCode     = "❌ The code should contain digits only. Try again."
	msgCodeRejected    = "❌ The code is incorrect. %d attempt(s) left."
	msgAskPassword     = "🔒 Two-step verification is enabled. Send your account password."
	msgEmptyPassword   = "❌ The password cannot be empty."
	msgWrongPassword   = "❌ Wrong password. %d attempt(s) left."
	msgLoginSuccess    = "✅ Login successful! Your groups are now being monitored."
	msgLoginFailed     = "❌ Login failed. Please try again with /login."
	msgLoginFlood      = "❌ Too many attempts. Please retry after %s."
	msgLoginExpired    = "❌ The code expired. Please start again with /login."
	msgLoginTimeout    = "⌛ Your login timed out. Start again with /login."
	msgLoginCancelled  = "Login cancelled."
	msgNoLogin         = "There is no login in progress."

	msgLoggedOut      = "✅ You have been logged out. Your session was removed."
	msgSessionRevoked = "⚠️ Your session is no longer authorized. Please log in again using /login."
	msgSessionDown    = "⚠️ Your session keeps failing to connect and was paused. Use /login to reconnect."
	msgSessionOffline = "⚠️ Your session is not connected right now. Try again in a moment."

	msgNoGroups     = "⚠️ No groups or channels found."
	msgInvalidPage  = "❌ Invalid page number."
	msgConfigReset  = "♻️ Your configuration was reset to defaults."
	msgDestSet      = "✅ Destination set to <code>%s</code>."
	msgTradingSet   = "✅ Trading bot set to <code>%s</code>."
	msgTradingOff   = "✅ Trading bot disabled."
	msgNotifierSet  = "✅ Group <code>%d</code> now uses <b>%s</b> (key <code>%s</code>)."
	msgNotifierGone = "✅ Notifier removed for group <code>%d</code>."
	msgNotifierNone = "Group <code>%d</code> had no notifier."
	msgUsage        = "Usage: <code>%s</code>"
	msgInvalidDest  = "❌ Invalid target. Use a numeric id, <code>@username</code>, a t.me link or <code>me</code>."
	msgInvalidGroup = "❌ Invalid group id. Use /list_groups to find it."
)

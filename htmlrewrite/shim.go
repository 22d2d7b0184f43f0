package htmlrewrite

import (
	"bytes"
	"text/template"
)

// ShimParams parameterizes the client shim at emit time with the proxy
// base and the current upstream origin (scheme and authority) being
// rendered.
type ShimParams struct {
	ProxyBase string
	Scheme    string
	Authority string
}

// shimTemplate is the client-side interception script: a package-level
// parsed template executed against a small param struct. text/template is
// used instead of html/template since the payload is JavaScript, not
// markup, and auto-escaping would corrupt it.
var shimTemplate = template.Must(template.New("client_shim").Parse(`<script>
(function () {
	var PROXY_BASE = {{printf "%q" .ProxyBase}};
	var UPSTREAM_SCHEME = {{printf "%q" .Scheme}};
	var UPSTREAM_AUTHORITY = {{printf "%q" .Authority}};
	var SHORT_CIRCUIT = /^(data:|javascript:|mailto:|tel:|blob:|about:|#)/i;

	function currentUpstreamBase() {
		return UPSTREAM_SCHEME + "://" + UPSTREAM_AUTHORITY + "/";
	}

	function encodeUrl(raw) {
		if (!raw || SHORT_CIRCUIT.test(raw)) {
			return raw;
		}
		try {
			var abs = new URL(raw, currentUpstreamBase());
			if (abs.protocol !== "http:" && abs.protocol !== "https:") {
				return raw;
			}
			return PROXY_BASE + "/proxy/" + abs.protocol.slice(0, -1) + "/" + abs.host + abs.pathname + abs.search + abs.hash;
		} catch (e) {
			return raw;
		}
	}

	function isProxied(raw) {
		return typeof raw === "string" && raw.indexOf(PROXY_BASE + "/proxy/") === 0;
	}

	var nativeFetch = window.fetch;
	if (nativeFetch) {
		window.fetch = function (input, init) {
			init = init || {};
			if (init.credentials === undefined) {
				init.credentials = "include";
			}
			if (typeof input === "string") {
				input = encodeUrl(input);
			} else if (input && input.url) {
				input = new Request(encodeUrl(input.url), input);
			}
			return nativeFetch.call(window, input, init);
		};
	}

	var nativeOpen = XMLHttpRequest.prototype.open;
	XMLHttpRequest.prototype.open = function (method, url) {
		var rest = Array.prototype.slice.call(arguments, 2);
		return nativeOpen.apply(this, [method, encodeUrl(url)].concat(rest));
	};

	var nativeSend = XMLHttpRequest.prototype.send;
	XMLHttpRequest.prototype.send = function () {
		try {
			this.withCredentials = true;
		} catch (e) {}
		return nativeSend.apply(this, arguments);
	};

	document.addEventListener("submit", function (event) {
		var form = event.target;
		if (!form || !form.tagName || form.tagName.toLowerCase() !== "form") {
			return;
		}
		var action = form.getAttribute("action");
		if (!action) {
			action = window.location.pathname + window.location.search;
		}
		if (!isProxied(action)) {
			form.setAttribute("action", encodeUrl(action));
		}
	}, true);

	function rewriteNode(node) {
		if (!node || node.nodeType !== 1) {
			return;
		}
		var tag = node.tagName ? node.tagName.toLowerCase() : "";
		if (tag === "script" || tag === "img" || tag === "iframe" || tag === "video" || tag === "audio") {
			var src = node.getAttribute("src");
			if (src && !isProxied(src)) {
				node.setAttribute("src", encodeUrl(src));
			}
		}
		if (tag === "link") {
			var href = node.getAttribute("href");
			if (href && !isProxied(href)) {
				node.setAttribute("href", encodeUrl(href));
			}
		}
	}

	var observer = new MutationObserver(function (mutations) {
		mutations.forEach(function (mutation) {
			mutation.addedNodes && mutation.addedNodes.forEach && mutation.addedNodes.forEach(rewriteNode);
		});
	});

	if (document.documentElement) {
		observer.observe(document.documentElement, { childList: true, subtree: true });
	}
})();
</script>`))

// RenderShim executes the client shim template for one request.
func RenderShim(params ShimParams) (string, error) {
	var buf bytes.Buffer
	if err := shimTemplate.Execute(&buf, params); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// internal/browser/session/scripts.go
package session

// refAttr tags matched elements so later calls can find them again without
// holding remote object handles.
const refAttr = "data-otpb-ref"

// prelude is prepended to every page script. __otpbDoc resolves a frame
// number to a document (null for cross-origin frames) and __otpbEl resolves
// a ref inside it.
const prelude = `
const __otpbFrames = () => Array.from(document.querySelectorAll('iframe, frame'));
const __otpbDoc = (frame) => {
  if (frame === 0) return document;
  const f = __otpbFrames()[frame - 1];
  if (!f) return null;
  try { return f.contentDocument; } catch (e) { return null; }
};
const __otpbEl = (frame, ref) => {
  const doc = __otpbDoc(frame);
  if (!doc) throw new Error('frame ' + frame + ' not accessible');
  const el = doc.querySelector('[` + refAttr + `="' + ref + '"]');
  if (!el) throw new Error('stale element reference');
  return el;
};
`

const frameCountJS = `() => __otpbFrames().length`

// queryJS evaluates an XPath in one frame, tags every element it matches and
// returns their descriptors.
const queryJS = `(frame, xpath) => {
  const doc = __otpbDoc(frame);
  if (!doc) return [];
  const win = doc.defaultView || window;
  const snap = doc.evaluate(xpath, doc, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
  window.__otpbSeq = window.__otpbSeq || 0;
  const out = [];
  for (let i = 0; i < snap.snapshotLength; i++) {
    const el = snap.snapshotItem(i);
    if (!el || el.nodeType !== 1) continue;
    let ref = el.getAttribute('` + refAttr + `');
    if (!ref) {
      ref = frame + '-' + (++window.__otpbSeq);
      el.setAttribute('` + refAttr + `', ref);
    }
    const style = win.getComputedStyle(el);
    const hiddenInput = el.tagName === 'INPUT' && (el.type || '').toLowerCase() === 'hidden';
    const visible = !hiddenInput && el.getClientRects().length > 0 &&
      style.visibility !== 'hidden' && style.display !== 'none';
    const text = el.tagName === 'INPUT' ? (el.value || '') : (el.innerText || el.textContent || '');
    out.push({
      ref: ref,
      tag: el.tagName.toLowerCase(),
      text: text.replace(/\s+/g, ' ').trim(),
      ariaLabel: el.getAttribute('aria-label') || '',
      type: el.getAttribute('type') || '',
      name: el.getAttribute('name') || '',
      id: el.id || '',
      placeholder: el.getAttribute('placeholder') || '',
      visible: visible,
      enabled: !el.disabled && el.getAttribute('aria-disabled') !== 'true',
      pressed: el.getAttribute('aria-pressed') === 'true' || el.getAttribute('aria-selected') === 'true',
    });
  }
  return out;
}`

// centerJS scrolls the element into view and returns its center in
// top-level viewport coordinates.
const centerJS = `(frame, ref) => {
  const el = __otpbEl(frame, ref);
  el.scrollIntoView({block: 'center', inline: 'center'});
  const r = el.getBoundingClientRect();
  let x = r.left + r.width / 2, y = r.top + r.height / 2;
  if (frame > 0) {
    const host = __otpbFrames()[frame - 1];
    const hr = host.getBoundingClientRect();
    x += hr.left + host.clientLeft;
    y += hr.top + host.clientTop;
  }
  return {x: x, y: y};
}`

const scriptClickJS = `(frame, ref) => { __otpbEl(frame, ref).click(); return true; }`

const focusJS = `(frame, ref) => { const el = __otpbEl(frame, ref); el.focus(); return true; }`

const blurJS = `(frame, ref) => { __otpbEl(frame, ref).blur(); return true; }`

// clearJS empties a control through the native value setter so frameworks
// that track the value notice the change.
const clearJS = `(frame, ref) => {
  const el = __otpbEl(frame, ref);
  el.focus();
  if (typeof el.select === 'function') el.select();
  const proto = Object.getPrototypeOf(el);
  const desc = Object.getOwnPropertyDescriptor(proto, 'value');
  if (desc && desc.set) desc.set.call(el, ''); else el.value = '';
  el.dispatchEvent(new Event('input', {bubbles: true}));
  return true;
}`

const eventsJS = `(frame, ref) => {
  const el = __otpbEl(frame, ref);
  el.dispatchEvent(new Event('input', {bubbles: true}));
  el.dispatchEvent(new Event('change', {bubbles: true}));
  return true;
}`

const enableJS = `(frame, ref) => {
  const el = __otpbEl(frame, ref);
  el.disabled = false;
  el.removeAttribute('disabled');
  el.removeAttribute('aria-disabled');
  return true;
}`

const selectOptionJS = `(frame, ref, wanted) => {
  const el = __otpbEl(frame, ref);
  for (const opt of Array.from(el.options || [])) {
    if ((opt.textContent || '').replace(/\s+/g, ' ').includes(wanted)) {
      el.value = opt.value;
      el.dispatchEvent(new Event('input', {bubbles: true}));
      el.dispatchEvent(new Event('change', {bubbles: true}));
      return true;
    }
  }
  return false;
}`

// submitJS submits the form enclosing the element, or the first form of the
// main document when frame is negative.
const submitJS = `(frame, ref) => {
  let form, submitter = null;
  if (frame < 0) {
    form = document.querySelector('form');
  } else {
    const el = __otpbEl(frame, ref);
    form = el.closest('form');
    if (el.matches('button, input[type=submit]')) submitter = el;
  }
  if (!form) return false;
  if (typeof form.requestSubmit === 'function') {
    try { submitter ? form.requestSubmit(submitter) : form.requestSubmit(); return true; } catch (e) {}
  }
  form.submit();
  return true;
}`

const bodyTextJS = `() => document.body ? document.body.innerText : ''`
